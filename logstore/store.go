package logstore

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/mindtastic/roster/log"
)

const (
	logFileName          = "logstore.db"
	defaultMaxRecordSize = 1 << 20 // 1 Megabyte
)

// Store represents a persistent, append only logbased key-value store.
//
// Writes are appended in batches closed by a commit record. Reads fold the log: a key
// keeps the position of its first write and the value of its last one, a tombstone
// removes it. A batch without its commit record, such as one torn by a crash, is
// ignored.
type Store struct {
	// Path of the underlying logfile
	storagePath string
	// Maximum allowed size for a single record
	maxRecordSize int
	// Set the sync flag to actually write to disk (using sync systemcall) after each database write access.
	// Synchronous mode might cause dramatic performance decrease.
	sync bool

	log *log.Source
	mu  sync.Mutex
}

// Entry is a live key and its current value.
type Entry struct {
	Key   string
	Value []byte
}

// Option configures a Store.
type Option func(*Store)

// WithSync fsyncs the log after every write.
func WithSync() Option {
	return func(s *Store) {
		s.sync = true
	}
}

// WithFileName overrides the log file name inside the store directory.
func WithFileName(name string) Option {
	return func(s *Store) {
		s.storagePath = path.Join(path.Dir(s.storagePath), name)
	}
}

// WithMaxRecordSize limits the size of a single record.
func WithMaxRecordSize(n int) Option {
	return func(s *Store) {
		s.maxRecordSize = n
	}
}

// WithLogger sets the source used to report writes.
func WithLogger(src *log.Source) Option {
	return func(s *Store) {
		s.log = src
	}
}

func NewStore(storeDir string, opts ...Option) (*Store, error) {
	s := &Store{
		storagePath:   path.Join(storeDir, logFileName),
		maxRecordSize: defaultMaxRecordSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir %v: %v", storeDir, err)
	}
	f, err := os.OpenFile(s.storagePath, os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	f.Close()

	return s, nil
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.storagePath
}

func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _, err := s.fold()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return nil, NewNotFoundError(key)
}

func (s *Store) Set(key string, val []byte) error {
	return s.Apply(NewRecord(key, val))
}

func (s *Store) Delete(key string) error {
	return s.Apply(NewTombstone(key))
}

// Entries returns every live key with its value, in first-write order.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _, err := s.fold()
	return entries, err
}

// Stats returns the number of live keys and of records in the log.
func (s *Store) Stats() (live, total int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, total, err := s.fold()
	return len(entries), total, err
}

// Apply appends records to the log as one batch: either all of them become visible
// or none do.
func (s *Store) Apply(records ...*Record) error {
	for _, r := range records {
		if r.Size() > s.maxRecordSize {
			return NewBadRequestError(fmt.Sprintf("record too large: %d bytes, max %d", r.Size(), s.maxRecordSize))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.storagePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open db file %v for writing: %v", s.storagePath, err)
	}
	defer f.Close()

	bytesWritten, err := f.Write(batch(records))
	if err != nil {
		return fmt.Errorf("failed to write records to file %v: %v", s.storagePath, err)
	}
	s.log.Debugf("wrote %d records (%d bytes) to %v", len(records), bytesWritten, s.storagePath)

	if s.sync {
		if err := f.Sync(); err != nil {
			return err
		}
	}

	return f.Close()
}

// Rewrite replaces the whole log with entries, in order.
func (s *Store) Rewrite(entries []Entry) error {
	records := make([]*Record, len(entries))
	for i, e := range entries {
		records[i] = NewRecord(e.Key, e.Value)
		if records[i].Size() > s.maxRecordSize {
			return NewBadRequestError(fmt.Sprintf("record too large: %d bytes, max %d", records[i].Size(), s.maxRecordSize))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rewrite(records)
}

// Compact rewrites the log with the live entries only.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, total, err := s.fold()
	if err != nil {
		return err
	}
	records := make([]*Record, len(entries))
	for i, e := range entries {
		records[i] = NewRecord(e.Key, e.Value)
	}
	if err := s.rewrite(records); err != nil {
		return err
	}
	s.log.Infof("compacted %v from %d to %d records", s.storagePath, total, len(records))
	return nil
}

func (s *Store) rewrite(records []*Record) error {
	f, err := os.CreateTemp(path.Dir(s.storagePath), path.Base(s.storagePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary db file: %v", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op once renamed

	if _, err := f.Write(batch(records)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temporary db file %v: %v", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.storagePath); err != nil {
		return fmt.Errorf("failed to replace db file %v: %v", s.storagePath, err)
	}
	return nil
}

// fold reads the log and returns the live entries and the number of records read.
// Caller must hold s.mu.
func (s *Store) fold() ([]Entry, int, error) {
	f, err := os.Open(s.storagePath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open db file %v: %v", s.storagePath, err)
	}
	defer f.Close()

	type slot struct {
		Entry
		live bool
	}
	var (
		slots   []slot
		index   = map[string]int{}
		pending []*Record
		total   int
	)
	apply := func(r *Record) {
		i, ok := index[r.key]
		switch {
		case r.IsTombstone():
			if ok {
				slots[i].live = false
				delete(index, r.key)
			}
		case ok:
			slots[i].Value = r.value
		default:
			index[r.key] = len(slots)
			slots = append(slots, slot{Entry: Entry{Key: r.key, Value: r.value}, live: true})
		}
	}

	scanner := NewScanner(f, s.maxRecordSize)
	for scanner.Scan() {
		r := scanner.Record()
		total++
		if !r.isCommit() {
			pending = append(pending, r)
			continue
		}
		for _, p := range pending {
			apply(p)
		}
		pending = pending[:0]
	}
	if err := scanner.Err(); err != nil {
		s.log.Errorf("error encountered on reading db: %v", err)
		return nil, 0, err
	}

	entries := make([]Entry, 0, len(index))
	for _, sl := range slots {
		if sl.live {
			entries = append(entries, sl.Entry)
		}
	}
	return entries, total, nil
}

func batch(records []*Record) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.Write(r.Serialize())
	}
	buf.Write(newCommit().Serialize())
	return buf.Bytes()
}
