// Package progress persists which projects have been fully exported so an
// interrupted run can resume with the next unsettled project.
//
// Two append-only files live under the output root:
//
//	project_progress.tsv   hub<TAB>project per completed project, read on start
//	exported_projects.log  the same lines, a write-only audit trail
//
// Names are written verbatim; a name containing a tab or newline corrupts
// its line. Both files are only rewritten by an explicit Reset.
package progress

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/kataras/total-export/pkg/logging"
)

const (
	// FileName is the progress file read on start.
	FileName = "project_progress.tsv"
	// AuditFileName is the exported projects audit log.
	AuditFileName = "exported_projects.log"
)

// Key identifies a completed project.
type Key struct {
	Hub     string
	Project string
}

func (k Key) String() string {
	return k.Hub + "/" + k.Project
}

// Set is a set of completed projects.
type Set map[Key]struct{}

// Has reports whether the project is in the set.
func (s Set) Has(hub, project string) bool {
	_, ok := s[Key{Hub: hub, Project: project}]
	return ok
}

// Read parses a progress file. Blank lines and lines with fewer than two
// tab-separated fields are ignored; fields after the second are ignored.
func Read(fs billy.Filesystem, path string) (Set, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parse(f)
}

func parse(r io.Reader) (Set, error) {
	set := make(Set)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		set[Key{Hub: parts[0], Project: parts[1]}] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// Store owns the progress and audit files of one output root.
type Store struct {
	fs           billy.Filesystem
	progressPath string
	auditPath    string
	logger       logging.Logger
	completed    Set
}

// NewStore returns a store for the default file names under fs. Call Load to
// read prior progress.
func NewStore(fs billy.Filesystem, logger logging.Logger) *Store {
	return &Store{
		fs:           fs,
		progressPath: FileName,
		auditPath:    AuditFileName,
		logger:       logging.OrNop(logger),
		completed:    make(Set),
	}
}

// SetLogger replaces the store's logger; the CLI swaps in the run logger once
// output.log is open.
func (s *Store) SetLogger(logger logging.Logger) {
	s.logger = logging.OrNop(logger)
}

// Load replaces the in-memory set with the contents of the progress file.
// A missing file yields an empty set; read or parse failures are logged and
// also yield an empty set.
func (s *Store) Load() Set {
	set, err := Read(s.fs, s.progressPath)
	switch {
	case err == nil:
		s.completed = set
	case errors.Is(err, os.ErrNotExist):
		s.completed = make(Set)
	default:
		s.logger.Errorf("Failed to load progress file %s: %v", s.progressPath, err)
		s.completed = make(Set)
	}
	return s.completed
}

// Exists reports whether a progress file is present on disk.
func (s *Store) Exists() bool {
	_, err := s.fs.Stat(s.progressPath)
	return err == nil
}

// Completed reports whether the project is recorded as fully exported.
func (s *Store) Completed(hub, project string) bool {
	return s.completed.Has(hub, project)
}

// Len returns the number of completed projects in memory.
func (s *Store) Len() int {
	return len(s.completed)
}

// Entries returns the completed projects sorted by hub and project name.
func (s *Store) Entries() []Key {
	keys := make([]Key, 0, len(s.completed))
	for k := range s.completed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Hub != keys[j].Hub {
			return keys[i].Hub < keys[j].Hub
		}
		return keys[i].Project < keys[j].Project
	})
	return keys
}

// Append records a completed project. The key joins the in-memory set only
// if the progress line was written. A failure to write the audit log is
// logged and never returned.
func (s *Store) Append(hub, project string) error {
	line := hub + "\t" + project + "\n"

	if err := appendLine(s.fs, s.progressPath, line); err != nil {
		return fmt.Errorf("append to progress file %s: %w", s.progressPath, err)
	}
	s.completed[Key{Hub: hub, Project: project}] = struct{}{}

	if err := appendLine(s.fs, s.auditPath, line); err != nil {
		s.logger.Errorf("Failed to append to exported projects log %s: %v", s.auditPath, err)
	}

	return nil
}

// Reset deletes both files and empties the in-memory set. Files that do not
// exist are not an error.
func (s *Store) Reset() error {
	s.completed = make(Set)

	var errs []error
	for _, p := range []string{s.progressPath, s.auditPath} {
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func appendLine(fs billy.Filesystem, path, line string) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write([]byte(line)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
