package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/wideevent"
)

// HeaderOrganizationID selects the organization for sessions without one.
const HeaderOrganizationID = "X-Organization-Id"

// KeyVerifier checks an API key secret. A miss is (nil, nil).
type KeyVerifier interface {
	Verify(ctx context.Context, token string, trackUsage bool) (*domain.APIKey, error)
}

// Directory looks up users and organizations. Misses return domain.ErrNotFound.
type Directory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	MemberOrganization(ctx context.Context, userID, orgID string) (*domain.Organization, error)
	FirstOrganization(ctx context.Context, userID string) (*domain.Organization, error)
}

// Resolver turns credentials into an Identity.
type Resolver struct {
	keys          KeyVerifier
	sessions      SessionProvider
	directory     Directory
	sessionCookie string
}

func NewResolver(keys KeyVerifier, sessions SessionProvider, directory Directory, sessionCookie string) *Resolver {
	return &Resolver{keys: keys, sessions: sessions, directory: directory, sessionCookie: sessionCookie}
}

type resolveOptions struct {
	trackUsage bool
}

type ResolveOption func(*resolveOptions)

// WithoutUsageTracking leaves API key counters untouched.
func WithoutUsageTracking() ResolveOption {
	return func(o *resolveOptions) { o.trackUsage = false }
}

// Resolve returns the caller of r, or nil for an anonymous or unrecognised
// caller. A non-nil error means a collaborator failed and the request must
// not be treated as anonymous.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, opts ...ResolveOption) (*domain.Identity, error) {
	o := resolveOptions{trackUsage: true}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		id  *domain.Identity
		err error
	)
	switch cred := ExtractCredential(req, r.sessionCookie).(type) {
	case APIKeyCredential:
		id, err = r.fromAPIKey(ctx, cred.Token, o.trackUsage)
	case SessionCredential:
		id, err = r.fromSession(ctx, cred.Token, req.Header.Get(HeaderOrganizationID))
	default:
		return nil, nil
	}
	if err != nil || id == nil {
		return nil, err
	}

	ev := wideevent.FromContext(ctx)
	ev.SetUser(id.User.ID)
	if id.Organization != nil {
		ev.SetOrganization(id.Organization.ID, id.Organization.Name)
	}
	if id.APIKeyID != "" {
		ev.SetAPIKey(id.APIKeyID)
	}
	return id, nil
}

func (r *Resolver) fromAPIKey(ctx context.Context, token string, trackUsage bool) (*domain.Identity, error) {
	key, err := r.keys.Verify(ctx, token, trackUsage)
	if err != nil {
		return nil, fmt.Errorf("resolve api key: %w", err)
	}
	if key == nil {
		return nil, nil
	}

	user, err := r.directory.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, missing(err, "resolve api key owner")
	}
	if user == nil {
		return nil, nil
	}
	org, err := r.directory.GetOrganization(ctx, key.OrganizationID)
	if err != nil {
		return nil, missing(err, "resolve api key organization")
	}
	if org == nil {
		return nil, nil
	}
	return &domain.Identity{User: *user, Organization: org, APIKeyID: key.ID}, nil
}

func (r *Resolver) fromSession(ctx context.Context, token, headerOrgID string) (*domain.Identity, error) {
	session, err := r.sessions.ResolveSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := r.directory.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, missing(err, "resolve session user")
	}
	if user == nil {
		return nil, nil
	}

	org, err := r.sessionOrganization(ctx, session, strings.TrimSpace(headerOrgID))
	if err != nil {
		return nil, err
	}
	return &domain.Identity{User: *user, Organization: org}, nil
}

// sessionOrganization tries the session's active organization, then the
// header, then the user's first membership. Candidates the user is not a
// member of are skipped.
func (r *Resolver) sessionOrganization(ctx context.Context, s *Session, headerOrgID string) (*domain.Organization, error) {
	for _, candidate := range []string{s.ActiveOrganizationID, headerOrgID} {
		if candidate == "" {
			continue
		}
		org, err := r.directory.MemberOrganization(ctx, s.UserID, candidate)
		if err != nil {
			if err = missing(err, "resolve organization membership"); err != nil {
				return nil, err
			}
			continue
		}
		return org, nil
	}

	org, err := r.directory.FirstOrganization(ctx, s.UserID)
	if err != nil {
		return nil, missing(err, "resolve first organization")
	}
	return org, nil
}

// missing swallows not-found and wraps everything else.
func missing(err error, op string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
