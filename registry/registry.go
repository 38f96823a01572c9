// Package registry keeps the in-memory user registry: default users seeded from
// role files, overlaid with the persisted collection, and flushed in full to a
// roster.Store after every change.
package registry

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/log"
)

// DefaultListLimit is the number of users List returns when no limit is given.
const DefaultListLimit = 50

// Registry maps user ids to users. Users keep the position of their first insertion;
// later writes for the same id replace the value in place.
//
// A Registry is not safe for concurrent use.
type Registry struct {
	store roster.Store
	order []int64
	items map[int64]*roster.User
}

type options struct {
	fs       afero.Fs
	dir      string
	defaults []roster.User
	log      *log.Source
}

// Option configures Open.
type Option func(*options)

// WithDefaults seeds the registry from the role files in dir.
func WithDefaults(fs afero.Fs, dir string) Option {
	return func(o *options) {
		o.fs = fs
		o.dir = dir
	}
}

// WithDefaultUsers seeds the registry with users, after any role files.
func WithDefaultUsers(users ...roster.User) Option {
	return func(o *options) {
		o.defaults = append(o.defaults, users...)
	}
}

// WithLogger reports what Open loaded.
func WithLogger(src *log.Source) Option {
	return func(o *options) {
		o.log = src
	}
}

// Open builds a registry from the configured defaults and the contents of store.
// Persisted users replace defaults with the same id.
func Open(ctx context.Context, store roster.Store, opts ...Option) (*Registry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		store: store,
		items: map[int64]*roster.User{},
	}

	defaults := o.defaults
	if o.fs != nil {
		fromFiles, err := LoadDefaults(o.fs, o.dir)
		if err != nil {
			return nil, err
		}
		defaults = append(fromFiles, defaults...)
	}
	for _, u := range defaults {
		if r.Contains(u.ID) {
			continue
		}
		r.put(u)
	}

	persisted, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	for _, u := range persisted {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("loading users: %w", err)
		}
		r.put(u)
	}

	o.log.Infof("loaded %d default and %d persisted users (%d total)", len(defaults), len(persisted), len(r.order))
	return r, nil
}

// Get returns a copy of the user with id.
func (r *Registry) Get(id int64) (roster.User, bool) {
	u, ok := r.items[id]
	if !ok {
		return roster.User{}, false
	}
	return u.Clone(), true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id int64) bool {
	_, ok := r.items[id]
	return ok
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	return len(r.order)
}

// List returns up to limit users in registry order. A limit <= 0 means
// DefaultListLimit.
func (r *Registry) List(limit int) []roster.User {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > len(r.order) {
		limit = len(r.order)
	}
	users := make([]roster.User, 0, limit)
	for _, id := range r.order[:limit] {
		users = append(users, r.items[id].Clone())
	}
	return users
}

// PendingApproval returns every user waiting for approval.
func (r *Registry) PendingApproval() []roster.User {
	var users []roster.User
	for _, id := range r.order {
		if u := r.items[id]; u.Status == roster.StatusWaitApprove {
			users = append(users, u.Clone())
		}
	}
	return users
}

// Create registers u. If the id is already known, only its status is reset to
// wait_approve: the user is asking for approval again.
func (r *Registry) Create(ctx context.Context, u roster.User) (roster.User, error) {
	if existing, ok := r.Get(u.ID); ok {
		existing.Status = roster.StatusWaitApprove
		if err := r.commit(ctx, existing); err != nil {
			return roster.User{}, err
		}
		return existing, nil
	}

	fresh := u.Clone()
	if fresh.Role == "" {
		fresh.Role = roster.RoleUser
	}
	if fresh.Status == "" {
		fresh.Status = roster.StatusWaitApprove
	}
	if err := fresh.Validate(); err != nil {
		return roster.User{}, err
	}
	if err := r.commit(ctx, fresh); err != nil {
		return roster.User{}, err
	}
	return fresh, nil
}

// Update applies p to the user with id.
func (r *Registry) Update(ctx context.Context, id int64, p roster.Patch) (roster.User, error) {
	u, ok := r.Get(id)
	if !ok {
		return roster.User{}, notFound(id)
	}
	if err := p.Validate(); err != nil {
		return roster.User{}, err
	}
	p.Apply(&u)
	if err := r.commit(ctx, u); err != nil {
		return roster.User{}, err
	}
	return u, nil
}

// Approve sets the user's status to approved.
func (r *Registry) Approve(ctx context.Context, id int64) error {
	return r.SetStatus(ctx, id, roster.StatusApproved)
}

// ToggleRole promotes a user to admin, or demotes any other role to user, and
// returns the new role.
func (r *Registry) ToggleRole(ctx context.Context, id int64) (roster.Role, error) {
	u, ok := r.Get(id)
	if !ok {
		return "", notFound(id)
	}
	role := roster.RoleUser
	if u.Role == roster.RoleUser {
		role = roster.RoleAdmin
	}
	if err := r.SetRole(ctx, id, role); err != nil {
		return "", err
	}
	return role, nil
}

// BanOrUnban declines an approved user or approves a declined one, and returns the
// new status. Users still waiting for approval cannot be banned.
func (r *Registry) BanOrUnban(ctx context.Context, id int64) (roster.Status, error) {
	u, ok := r.Get(id)
	if !ok {
		return "", notFound(id)
	}
	if u.Status == roster.StatusWaitApprove {
		return "", fmt.Errorf("user %d: %w", id, roster.ErrAwaitingApproval)
	}
	status := roster.StatusApproved
	if u.Status == roster.StatusApproved {
		status = roster.StatusDeclined
	}
	if err := r.SetStatus(ctx, id, status); err != nil {
		return "", err
	}
	return status, nil
}

// SetStatus sets the user's status.
func (r *Registry) SetStatus(ctx context.Context, id int64, status roster.Status) error {
	u, ok := r.Get(id)
	if !ok {
		return notFound(id)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", roster.ErrInvalidStatus, status)
	}
	u.Status = status
	return r.commit(ctx, u)
}

// SetRole sets the user's role.
func (r *Registry) SetRole(ctx context.Context, id int64, role roster.Role) error {
	u, ok := r.Get(id)
	if !ok {
		return notFound(id)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", roster.ErrInvalidRole, role)
	}
	u.Role = role
	return r.commit(ctx, u)
}

// AttachAccount links accountID to the user under slug. Linking an account twice is
// not an error.
func (r *Registry) AttachAccount(ctx context.Context, slug string, userID, accountID int64) error {
	u, ok := r.Get(userID)
	if !ok {
		return notFound(userID)
	}
	u.AttachAccount(slug, accountID)
	return r.commit(ctx, u)
}

// Flush writes the full registry to the store.
func (r *Registry) Flush(ctx context.Context) error {
	return r.flush(ctx, r.snapshot(nil))
}

// commit flushes the registry with u in place and only then keeps u in memory, so a
// failed flush leaves the registry unchanged.
func (r *Registry) commit(ctx context.Context, u roster.User) error {
	if err := r.flush(ctx, r.snapshot(&u)); err != nil {
		return err
	}
	r.put(u)
	return nil
}

func (r *Registry) flush(ctx context.Context, users []roster.User) error {
	if err := r.store.ReplaceAll(ctx, users); err != nil {
		return fmt.Errorf("flushing users: %w", err)
	}
	return nil
}

// snapshot copies every user in order, with pending taking the place of its id.
func (r *Registry) snapshot(pending *roster.User) []roster.User {
	users := make([]roster.User, 0, len(r.order)+1)
	for _, id := range r.order {
		if pending != nil && id == pending.ID {
			users = append(users, pending.Clone())
			continue
		}
		users = append(users, r.items[id].Clone())
	}
	if pending != nil && !r.Contains(pending.ID) {
		users = append(users, pending.Clone())
	}
	return users
}

func (r *Registry) put(u roster.User) {
	if _, ok := r.items[u.ID]; !ok {
		r.order = append(r.order, u.ID)
	}
	c := u.Clone()
	r.items[u.ID] = &c
}

func notFound(id int64) error {
	return fmt.Errorf("user %d: %w", id, roster.ErrNotFound)
}
