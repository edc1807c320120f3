package models

import "fmt"

// Role is the authenticated party kind; exactly "user" or "admin".
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Opposite returns the other party's role.
func (r Role) Opposite() Role {
	if r == RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}

// Sender is a closed union of UserSender and AdminSender.
type Sender interface {
	Role() Role
	ID() int64
	sender()
}

// UserSender is an end-user author.
type UserSender struct {
	UserID int64
}

func (s UserSender) Role() Role { return RoleUser }
func (s UserSender) ID() int64  { return s.UserID }
func (UserSender) sender()      {}

// AdminSender is an admin-pool author.
type AdminSender struct {
	AdminID int64
}

func (s AdminSender) Role() Role { return RoleAdmin }
func (s AdminSender) ID() int64  { return s.AdminID }
func (AdminSender) sender()      {}

// NewSender builds the tagged sender for a role.
func NewSender(role Role, id int64) (Sender, error) {
	switch role {
	case RoleUser:
		return UserSender{UserID: id}, nil
	case RoleAdmin:
		return AdminSender{AdminID: id}, nil
	}
	return nil, fmt.Errorf("unknown sender role %q", role)
}

// SenderLabel renders the author for display.
func SenderLabel(s Sender, userName string) string {
	switch v := s.(type) {
	case UserSender:
		if userName != "" {
			return userName
		}
		return fmt.Sprintf("user #%d", v.UserID)
	case AdminSender:
		return "Support"
	}
	panic(fmt.Sprintf("unhandled sender %T", s))
}
