package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	infracontext "github.com/jonesrussell/ocrbase/infrastructure/context"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/infrastructure/retry"
	"github.com/jonesrussell/ocrbase/internal/domain"
)

// Repository is the persistence the store needs.
type Repository interface {
	Insert(ctx context.Context, key *domain.APIKey) error
	FindActiveByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	Touch(ctx context.Context, id string) error
	GetByID(ctx context.Context, orgID, id string) (*domain.APIKey, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, orgID, id string) error
	Delete(ctx context.Context, orgID, id string) error
	InsertUsage(ctx context.Context, usage *domain.APIKeyUsage) error
	RecentUsage(ctx context.Context, keyID string, limit int) ([]domain.APIKeyUsage, error)
	UsageCounts(ctx context.Context, keyID string) (domain.UsageCounts, error)
}

const (
	recentUsageLimit  = 50
	maxNameLength     = 100
	backgroundTimeout = 10 * time.Second
)

// Store owns API key lifecycle and usage accounting. Usage writes run in the
// background after the response; Wait drains them on shutdown.
type Store struct {
	repo     Repository
	log      infralogger.Logger
	retryCfg retry.Config
	wg       sync.WaitGroup
}

type Option func(*Store)

// WithRetry overrides the retry policy for usage writes.
func WithRetry(cfg retry.Config) Option {
	return func(s *Store) { s.retryCfg = cfg }
}

func NewStore(repo Repository, log infralogger.Logger, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		log:      log,
		retryCfg: retry.Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Created is returned once, at creation; Secret is never retrievable again.
type Created struct {
	Key    *domain.APIKey
	Secret string
}

func (s *Store) Create(ctx context.Context, owner domain.Owner, name string) (*Created, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.InvalidInput("name is required")
	}
	if len(name) > maxNameLength {
		return nil, domain.InvalidInput("name must be at most %d characters", maxNameLength)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	key := &domain.APIKey{
		ID:             domain.NewAPIKeyID(),
		OrganizationID: owner.OrganizationID,
		UserID:         owner.UserID,
		Name:           name,
		KeyHash:        HashSecret(secret),
		KeyPrefix:      DisplayPrefix(secret),
		IsActive:       true,
	}
	if err = s.repo.Insert(ctx, key); err != nil {
		return nil, err
	}
	return &Created{Key: key, Secret: secret}, nil
}

// Verify returns the active key matching token, or nil when nothing matches.
// With trackUsage the request counter is bumped in the background.
func (s *Store) Verify(ctx context.Context, token string, trackUsage bool) (*domain.APIKey, error) {
	if token == "" {
		return nil, nil
	}
	key, err := s.repo.FindActiveByHash(ctx, HashSecret(token))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify api key: %w", err)
	}

	if trackUsage {
		id := key.ID
		s.background(ctx, func(ctx context.Context) {
			if touchErr := s.repo.Touch(ctx, id); touchErr != nil {
				s.log.Warn("Failed to update api key counters",
					infralogger.String("api_key_id", id), infralogger.Error(touchErr))
			}
		})
	}
	return key, nil
}

// Usage describes one completed request made with a key.
type Usage struct {
	APIKeyID   string
	Endpoint   string
	Method     string
	StatusCode int
	Duration   time.Duration
}

// RecordUsage appends a usage row without blocking the caller. Transient
// failures are retried; a write that still fails is logged at error level.
func (s *Store) RecordUsage(ctx context.Context, u Usage) {
	ms := u.Duration.Milliseconds()
	row := &domain.APIKeyUsage{
		ID:           domain.NewUsageID(),
		APIKeyID:     u.APIKeyID,
		Endpoint:     u.Endpoint,
		Method:       u.Method,
		StatusCode:   u.StatusCode,
		ProcessingMs: &ms,
	}

	s.background(ctx, func(ctx context.Context) {
		err := retry.Do(ctx, s.retryCfg, func(int) error {
			insertErr := s.repo.InsertUsage(ctx, row)
			if errors.Is(insertErr, domain.ErrNotFound) {
				return retry.Permanent(insertErr)
			}
			return insertErr
		})
		if err != nil {
			s.log.Error("Failed to record api key usage",
				infralogger.String("api_key_id", row.APIKeyID),
				infralogger.String("endpoint", row.Endpoint),
				infralogger.Error(err))
		}
	})
}

func (s *Store) background(ctx context.Context, fn func(context.Context)) {
	s.wg.Go(func() {
		bgCtx, cancel := infracontext.Detached(ctx, backgroundTimeout)
		defer cancel()
		fn(bgCtx)
	})
}

// Wait blocks until background writes finish or ctx ends.
func (s *Store) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("api key store drain: %w", ctx.Err())
	}
}

func (s *Store) List(ctx context.Context, orgID string) ([]*domain.APIKey, error) {
	return s.repo.ListByOrganization(ctx, orgID)
}

// GetUsage returns a key with its 50 newest usage rows and rolling counts.
func (s *Store) GetUsage(ctx context.Context, orgID, id string) (*domain.APIKeyUsageReport, error) {
	key, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.RecentUsage(ctx, key.ID, recentUsageLimit)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.UsageCounts(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	return &domain.APIKeyUsageReport{Key: *key, Recent: recent, Counts: counts}, nil
}

func (s *Store) Revoke(ctx context.Context, orgID, id string) error {
	return s.repo.Revoke(ctx, orgID, id)
}

func (s *Store) Delete(ctx context.Context, orgID, id string) error {
	return s.repo.Delete(ctx, orgID, id)
}
