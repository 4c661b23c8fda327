package model

import "sort"

// Principal is the acting party of a request. Permission checks are the
// only thing the engine asks of it.
type Principal interface {
	ID() string
	HasPermission(permission string) bool
	Permissions() []string
}

// User is a principal backed by an explicit permission set.
type User struct {
	UserID      string
	permissions map[string]bool
}

// NewUser builds a user principal holding the given permissions.
func NewUser(id string, permissions ...string) *User {
	u := &User{UserID: id, permissions: make(map[string]bool, len(permissions))}
	for _, p := range permissions {
		u.permissions[p] = true
	}
	return u
}

func (u *User) ID() string { return u.UserID }

func (u *User) HasPermission(permission string) bool {
	return u.permissions[permission]
}

// Permissions returns the granted permissions in sorted order.
func (u *User) Permissions() []string {
	out := make([]string, 0, len(u.permissions))
	for p := range u.permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Grant adds permissions to the user.
func (u *User) Grant(permissions ...string) {
	for _, p := range permissions {
		u.permissions[p] = true
	}
}

type systemPrincipal struct{}

func (systemPrincipal) ID() string                { return "system" }
func (systemPrincipal) HasPermission(string) bool { return true }
func (systemPrincipal) Permissions() []string     { return []string{"*"} }

// System is the principal used by automated work: wait-list promotion,
// held expiration and scheduled host status changes.
var System Principal = systemPrincipal{}
