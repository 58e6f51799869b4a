// Package catalog loads and serves the immutable course snapshot.
package catalog

import (
	"sort"

	"github.com/kailas-cloud/coursedex/internal/domain/course"
)

// Store is an in-memory, immutable-after-load collection of course records.
// It is safe for unsynchronized concurrent reads.
type Store struct {
	courses []course.Course
	byID    map[string]*course.Course
	version string

	schools     []string
	departments []string
	levels      []string
}

// newStore indexes a loaded snapshot. Duplicate IDs keep the first record
// and drop the rest, so All() never yields the same course twice.
func newStore(courses []course.Course, version string) *Store {
	deduped := make([]course.Course, 0, len(courses))
	seen := make(map[string]struct{}, len(courses))
	for i := range courses {
		if _, ok := seen[courses[i].ID()]; ok {
			continue
		}
		seen[courses[i].ID()] = struct{}{}
		deduped = append(deduped, courses[i])
	}

	s := &Store{
		courses: deduped,
		byID:    make(map[string]*course.Course, len(deduped)),
		version: version,
	}

	schools := make(map[string]struct{})
	departments := make(map[string]struct{})
	levels := make(map[string]struct{})

	for i := range s.courses {
		c := &s.courses[i]
		s.byID[c.ID()] = c
		if c.School != "" {
			schools[c.School] = struct{}{}
		}
		if c.Department != "" {
			departments[c.Department] = struct{}{}
		}
		if c.Level != "" {
			levels[c.Level] = struct{}{}
		}
	}

	s.schools = sortedKeys(schools)
	s.departments = sortedKeys(departments)
	s.levels = sortedKeys(levels)
	return s
}

// Len returns the number of courses in the snapshot.
func (s *Store) Len() int { return len(s.courses) }

// Version identifies the loaded snapshot (hash of the source file).
func (s *Store) Version() string { return s.version }

// Get returns the course with the given identifier.
func (s *Store) Get(id string) (*course.Course, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// All returns every course in load order. Callers must not mutate records.
func (s *Store) All() []*course.Course {
	out := make([]*course.Course, len(s.courses))
	for i := range s.courses {
		out[i] = &s.courses[i]
	}
	return out
}

// Schools returns the distinct school names, sorted.
func (s *Store) Schools() []string { return s.schools }

// Departments returns the distinct department names, sorted.
func (s *Store) Departments() []string { return s.departments }

// Levels returns the distinct level names, sorted.
func (s *Store) Levels() []string { return s.levels }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
