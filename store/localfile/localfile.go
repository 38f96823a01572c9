package localfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/log"
)

// Ensure that LocalFileStore implements the roster.Store interface
var _ roster.Store = (*LocalFileStore)(nil)

var ErrStoreClosed = errors.New("store is closed")

// document is the on-disk layout of the data file.
type document struct {
	Users []roster.User `json:"users"`
}

// LocalFileStore keeps the user collection in a single JSON file. Every ReplaceAll
// rewrites the file through a temporary file and a rename, so readers see either the
// old or the new collection.
//
// While open, the store holds an exclusive lock on "<path>.lock"; a second store on the
// same path, in this process or another, fails to open with roster.ErrStoreLocked.
type LocalFileStore struct {
	mu       sync.Mutex
	dbPath   string
	lock     *flock.Flock
	stopped  bool
	shutdown sync.Once
	log      *log.Source
}

// Option configures a LocalFileStore.
type Option func(*LocalFileStore)

// WithLogger sets the source used to report writes.
func WithLogger(src *log.Source) Option {
	return func(l *LocalFileStore) {
		l.log = src
	}
}

// Open prepares the data file at dbpath. Missing parent directories are created. The
// file itself is only created by the first ReplaceAll.
func Open(dbpath string, opts ...Option) (*LocalFileStore, error) {
	if dbpath == "" {
		return nil, errors.New("empty database path")
	}
	p := filepath.Dir(dbpath)
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("error creating path %s: %v", p, err)
	}

	lock := flock.New(dbpath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("error locking %s: %v", dbpath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dbpath, roster.ErrStoreLocked)
	}

	l := &LocalFileStore{
		dbPath: dbpath,
		lock:   lock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the data file path.
func (l *LocalFileStore) Path() string {
	return l.dbPath
}

// LoadAll reads every user from the data file. A missing or empty file holds no users.
func (l *LocalFileStore) LoadAll(_ context.Context) ([]roster.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(l.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error opening file: %v", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error decoding existing database file %s: %v", l.dbPath, err)
	}
	return doc.Users, nil
}

// ReplaceAll writes users as the new content of the data file.
func (l *LocalFileStore) ReplaceAll(_ context.Context, users []roster.User) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStoreClosed
	}

	if users == nil {
		users = []roster.User{}
	}
	dd, err := json.MarshalIndent(document{Users: users}, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding data in store: %v", err)
	}
	if err := writeFileAtomic(l.dbPath, dd); err != nil {
		return fmt.Errorf("error writing data file %s: %v", l.dbPath, err)
	}
	l.log.Debugf("wrote %d users (%d bytes) to %s", len(users), len(dd), l.dbPath)
	return nil
}

// Shutdown releases the file lock. After Shutdown, LoadAll and ReplaceAll return
// ErrStoreClosed. A closed store cannot be reused.
func (l *LocalFileStore) Shutdown() error {
	var err error
	l.shutdown.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.stopped = true
		err = l.lock.Unlock()
	})
	return err
}

// Close implements io.Closer.
func (l *LocalFileStore) Close() error {
	return l.Shutdown()
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op once renamed

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
