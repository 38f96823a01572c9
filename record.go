package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role is the permission tier of a User.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Roles lists every valid Role.
var Roles = []Role{RoleUser, RoleAdmin}

// Valid reports whether r is one of Roles.
func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// Status is the approval state of a User.
type Status string

const (
	StatusWaitApprove Status = "wait_approve"
	StatusApproved    Status = "approved"
	StatusDeclined    Status = "declined"
)

// Statuses lists every valid Status.
var Statuses = []Status{StatusWaitApprove, StatusApproved, StatusDeclined}

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

var (
	ErrNotFound         = errors.New("user not found")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrAwaitingApproval = errors.New("user is waiting for approval")
	ErrUnknownField     = errors.New("unknown field")
	ErrDuplicateAccount = errors.New("account linked twice")
	ErrStoreLocked      = errors.New("store is locked by another process")
)

// ParseRole parses a case-insensitive role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// ParseStatus parses a case-insensitive status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// User is a registered bot user.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      Role   `json:"role"`
	Status    Status `json:"status"`

	// AddedAccounts maps a provider slug to the account ids linked under it, in the
	// order they were attached.
	AddedAccounts map[string][]int64 `json:"added_accounts"`
}

// NewUser returns a fresh registration for id.
func NewUser(id int64) User {
	return User{
		ID:            id,
		Role:          RoleUser,
		Status:        StatusWaitApprove,
		AddedAccounts: map[string][]int64{},
	}
}

// NewDefaultUser returns a pre-approved user provisioned from static configuration.
func NewDefaultUser(id int64, role Role) User {
	u := NewUser(id)
	u.Role = role
	u.Status = StatusApproved
	return u
}

// Validate checks that role and status hold known values and that no account is
// linked twice under one slug.
func (u User) Validate() error {
	if !u.Role.Valid() {
		return fmt.Errorf("user %d: %w: %q", u.ID, ErrInvalidRole, u.Role)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("user %d: %w: %q", u.ID, ErrInvalidStatus, u.Status)
	}
	if err := validateAccounts(u.AddedAccounts); err != nil {
		return fmt.Errorf("user %d: %w", u.ID, err)
	}
	return nil
}

func validateAccounts(accounts map[string][]int64) error {
	for slug, ids := range accounts {
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				return fmt.Errorf("%w: %s/%d", ErrDuplicateAccount, slug, id)
			}
			seen[id] = true
		}
	}
	return nil
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	c := u
	c.AddedAccounts = make(map[string][]int64, len(u.AddedAccounts))
	for slug, ids := range u.AddedAccounts {
		c.AddedAccounts[slug] = append([]int64(nil), ids...)
	}
	return c
}

// AttachAccount links accountID under slug. It reports false if the account was
// already linked there.
func (u *User) AttachAccount(slug string, accountID int64) bool {
	if u.AddedAccounts == nil {
		u.AddedAccounts = map[string][]int64{}
	}
	for _, id := range u.AddedAccounts[slug] {
		if id == accountID {
			return false
		}
	}
	u.AddedAccounts[slug] = append(u.AddedAccounts[slug], accountID)
	return true
}

// A Store durably holds the full user collection. It has no notion of keys: the
// whole ordered collection is loaded and replaced at once.
type Store interface {
	// LoadAll returns every stored user in stored order.
	LoadAll(ctx context.Context) ([]User, error)
	// ReplaceAll replaces the stored collection with users.
	ReplaceAll(ctx context.Context, users []User) error
}
