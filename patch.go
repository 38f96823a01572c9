package roster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Patch is a partial update of a User. Nil fields are left unchanged. The id is not
// patchable.
type Patch struct {
	Username  *string `json:"username,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Role      *Role   `json:"role,omitempty"`
	Status    *Status `json:"status,omitempty"`

	// AddedAccounts replaces the linked accounts wholesale when non-nil.
	AddedAccounts map[string][]int64 `json:"added_accounts,omitempty"`
}

// DecodePatch decodes a JSON object into a Patch. Keys that do not name a patchable
// field fail with ErrUnknownField.
func DecodePatch(data []byte) (Patch, error) {
	var p Patch
	d := json.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(&p); err != nil {
		// encoding/json has no typed error for this case.
		if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
			return Patch{}, fmt.Errorf("%w: %s", ErrUnknownField, strings.TrimPrefix(msg, "json: unknown field "))
		}
		return Patch{}, fmt.Errorf("decoding patch: %w", err)
	}
	if err := d.Decode(&struct{}{}); err != io.EOF {
		return Patch{}, errors.New("decoding patch: unexpected data after the JSON object")
	}
	return p, p.Validate()
}

// Validate checks every set field.
func (p Patch) Validate() error {
	if p.Role != nil && !p.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, *p.Role)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	return validateAccounts(p.AddedAccounts)
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Username == nil && p.FirstName == nil && p.LastName == nil &&
		p.Role == nil && p.Status == nil && p.AddedAccounts == nil
}

// Apply writes every set field of p onto u.
func (p Patch) Apply(u *User) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	if p.AddedAccounts != nil {
		u.AddedAccounts = make(map[string][]int64, len(p.AddedAccounts))
		for slug, ids := range p.AddedAccounts {
			u.AddedAccounts[slug] = append([]int64(nil), ids...)
		}
	}
}
