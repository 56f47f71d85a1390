package domain

type User struct {
	ID    string `db:"id"    json:"id"`
	Name  string `db:"name"  json:"name"`
	Email string `db:"email" json:"email"`
}

type Organization struct {
	ID   string `db:"id"   json:"id"`
	Name string `db:"name" json:"name"`
	Slug string `db:"slug" json:"slug"`
}

// Identity is the resolved caller of a request. Organization may be nil for
// a session user without memberships. APIKeyID is set when the request
// authenticated with an API key.
type Identity struct {
	User         User
	Organization *Organization
	APIKeyID     string
}

// OrganizationID returns the effective organization id, or "".
func (i *Identity) OrganizationID() string {
	if i == nil || i.Organization == nil {
		return ""
	}
	return i.Organization.ID
}
