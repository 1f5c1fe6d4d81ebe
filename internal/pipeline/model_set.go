package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// ActiveModelSet is the set of enabled model identifiers.
// Writers copy the set and swap it in; the capture loop reads one snapshot per frame
// and never waits on a writer.
type ActiveModelSet struct {
	current atomic.Pointer[map[string]struct{}]
	writeMu sync.Mutex
}

// NewActiveModelSet creates a set holding ids
func NewActiveModelSet(ids ...string) *ActiveModelSet {
	s := &ActiveModelSet{}
	m := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	s.current.Store(&m)
	return s
}

// Snapshot returns the sorted identifiers currently enabled
func (s *ActiveModelSet) Snapshot() []string {
	m := s.current.Load()
	if m == nil {
		return []string{}
	}
	ids := lo.Keys(*m)
	sort.Strings(ids)
	return ids
}

// Contains reports membership
func (s *ActiveModelSet) Contains(id string) bool {
	m := s.current.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[id]
	return ok
}

// Add enables a model; returns false if it was already enabled
func (s *ActiveModelSet) Add(id string) bool {
	return s.update(func(m map[string]struct{}) bool {
		if _, ok := m[id]; ok {
			return false
		}
		m[id] = struct{}{}
		return true
	})
}

// Remove disables a model; returns false if it was not enabled
func (s *ActiveModelSet) Remove(id string) bool {
	return s.update(func(m map[string]struct{}) bool {
		if _, ok := m[id]; !ok {
			return false
		}
		delete(m, id)
		return true
	})
}

// Replace swaps in an entirely new set
func (s *ActiveModelSet) Replace(ids []string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	m := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	s.current.Store(&m)
}

func (s *ActiveModelSet) update(fn func(m map[string]struct{}) bool) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := make(map[string]struct{})
	if old := s.current.Load(); old != nil {
		for id := range *old {
			next[id] = struct{}{}
		}
	}
	if !fn(next) {
		return false
	}
	s.current.Store(&next)
	return true
}
