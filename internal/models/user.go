package models

import "time"

// DefaultMemberName is the display name given to a member provisioned on first upload.
const DefaultMemberName = "Me"

// Person is a member that can be assigned a share of an expense.
// Persons are owned by the roster directory; the pipeline only reads them,
// except for provisioning the requesting user when missing.
type Person struct {
	// ID is the opaque member identifier (the auth provider's user id).
	ID string `json:"id"`

	// Name is the display name used in split instructions (e.g., "Alice").
	Name string `json:"name"`

	// CreatedAt is set by the store when the member row is inserted.
	CreatedAt time.Time `json:"-"`
}
