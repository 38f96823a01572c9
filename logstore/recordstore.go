package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mindtastic/roster"
)

// Ensure that RecordStore implements the roster.Store interface
var _ roster.Store = (*RecordStore)(nil)

const (
	// compaction kicks in once the log holds more than compactRatio records per live
	// user and at least compactMinRecords records.
	compactRatio      = 4
	compactMinRecords = 256
)

// RecordStore keeps users in a log Store, one JSON document per user keyed by its
// decimal id. ReplaceAll only appends the users that changed and tombstones for the
// ones that are gone.
type RecordStore struct {
	store   *Store
	compact func() error
}

// NewRecordStore wraps s.
func NewRecordStore(s *Store) *RecordStore {
	return &RecordStore{store: s, compact: s.Compact}
}

// OpenRecordStore opens the log store in dir and wraps it.
func OpenRecordStore(dir string, opts ...Option) (*RecordStore, error) {
	s, err := NewStore(dir, opts...)
	if err != nil {
		return nil, err
	}
	return NewRecordStore(s), nil
}

// Log returns the underlying log store.
func (rs *RecordStore) Log() *Store {
	return rs.store
}

// LoadAll decodes every live user in the log.
func (rs *RecordStore) LoadAll(_ context.Context) ([]roster.User, error) {
	entries, err := rs.store.Entries()
	if err != nil {
		return nil, err
	}

	users := make([]roster.User, 0, len(entries))
	for _, e := range entries {
		id, err := strconv.ParseInt(e.Key, 10, 64)
		if err != nil {
			return nil, &InvalidKeyError{key: e.Key}
		}
		var u roster.User
		if err := json.Unmarshal(e.Value, &u); err != nil {
			return nil, fmt.Errorf("failed to decode user %v: %v", e.Key, err)
		}
		if u.ID != id {
			return nil, fmt.Errorf("user stored under key %v has id %d", e.Key, u.ID)
		}
		users = append(users, u)
	}
	return users, nil
}

// ReplaceAll makes users the live content of the log, in order. Once the batch is
// written the call succeeds; a failed compaction afterwards is only logged.
func (rs *RecordStore) ReplaceAll(_ context.Context, users []roster.User) error {
	current, err := rs.store.Entries()
	if err != nil {
		return err
	}

	desired := make([]Entry, len(users))
	wanted := make(map[string]bool, len(users))
	for i, u := range users {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("failed to encode user %d: %v", u.ID, err)
		}
		key := strconv.FormatInt(u.ID, 10)
		desired[i] = Entry{Key: key, Value: data}
		wanted[key] = true
	}

	if !appendable(current, desired) {
		return rs.store.Rewrite(desired)
	}

	stored := make(map[string][]byte, len(current))
	var records []*Record
	for _, e := range current {
		stored[e.Key] = e.Value
		if !wanted[e.Key] {
			records = append(records, NewTombstone(e.Key))
		}
	}
	for _, e := range desired {
		if old, ok := stored[e.Key]; !ok || !bytes.Equal(old, e.Value) {
			records = append(records, NewRecord(e.Key, e.Value))
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := rs.store.Apply(records...); err != nil {
		return err
	}

	rs.maybeCompact(len(desired))
	return nil
}

func (rs *RecordStore) maybeCompact(live int) {
	_, total, err := rs.store.Stats()
	if err != nil {
		rs.store.log.Errorf("skipping compaction: %v", err)
		return
	}
	if total < compactMinRecords || total <= compactRatio*live {
		return
	}
	if err := rs.compact(); err != nil {
		rs.store.log.Errorf("compaction failed, log keeps %d records: %v", total, err)
	}
}

// appendable reports whether appending to a log holding current can produce desired
// in order: the surviving keys keep their relative order and lead, new keys follow.
func appendable(current, desired []Entry) bool {
	inDesired := make(map[string]bool, len(desired))
	for _, e := range desired {
		inDesired[e.Key] = true
	}
	inCurrent := make(map[string]bool, len(current))
	i := 0
	for _, e := range current {
		inCurrent[e.Key] = true
		if !inDesired[e.Key] {
			continue
		}
		if desired[i].Key != e.Key {
			return false
		}
		i++
	}
	for _, e := range desired[i:] {
		if inCurrent[e.Key] {
			return false
		}
	}
	return true
}

// Close is a no-op; the log is opened per operation.
func (rs *RecordStore) Close() error {
	return nil
}
