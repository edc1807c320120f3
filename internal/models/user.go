package models

// User is the read-only identity mirror owned by the LMS.
type User struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Role Role   `db:"role" json:"role"`
}

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the caller acts for the admin pool.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Sender returns the tagged sender for messages written by this identity.
func (i Identity) Sender() (Sender, error) {
	return NewSender(i.Role, i.UserID)
}
