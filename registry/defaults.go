package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/mindtastic/roster"
)

// LoadDefaults reads the default users provisioned in dir.
//
// Every regular file directly inside dir holds the ids of one role: the file name
// minus its last character names the role ("admins" -> "admin"). Files that do not
// name a known role are skipped. Blank lines and lines starting with '#' are ignored;
// every other line is a decimal user id. An id listed more than once keeps its first
// role. A missing dir yields no defaults.
func LoadDefaults(fs afero.Fs, dir string) ([]roster.User, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading defaults directory: %w", err)
	}

	var (
		users []roster.User
		seen  = map[int64]bool{}
	)
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		name := entry.Name()
		_, size := utf8.DecodeLastRuneInString(name)
		role := roster.Role(name[:len(name)-size])
		if !role.Valid() {
			continue
		}

		ids, err := readIDs(fs, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			users = append(users, roster.NewDefaultUser(id, role))
		}
	}
	return users, nil
}

func readIDs(fs afero.Fs, path string) ([]int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening defaults file: %w", err)
	}
	defer f.Close()

	var (
		ids    []int64
		lineNo int
	)
	s := bufio.NewScanner(f)
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid user id %q", path, lineNo, line)
		}
		ids = append(ids, id)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading defaults file %s: %w", path, err)
	}
	return ids, nil
}
