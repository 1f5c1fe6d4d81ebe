package pipeline

import (
	"reflect"
	"sync"
	"testing"
)

func TestActiveModelSet(t *testing.T) {
	s := NewActiveModelSet("weapon", "fire")

	if got := s.Snapshot(); !reflect.DeepEqual(got, []string{"fire", "weapon"}) {
		t.Fatalf("Snapshot = %v", got)
	}
	if !s.Add("people") || s.Add("people") {
		t.Error("Add should report only the first insertion")
	}
	if !s.Remove("fire") || s.Remove("fire") {
		t.Error("Remove should report only the first removal")
	}
	if s.Contains("fire") || !s.Contains("people") {
		t.Error("Contains disagrees with Add/Remove")
	}

	snap := s.Snapshot()
	s.Replace([]string{"crowd"})
	if !reflect.DeepEqual(snap, []string{"people", "weapon"}) {
		t.Errorf("earlier snapshot changed to %v", snap)
	}
	if got := s.Snapshot(); !reflect.DeepEqual(got, []string{"crowd"}) {
		t.Errorf("after Replace = %v", got)
	}

	s.Replace(nil)
	if got := s.Snapshot(); len(got) != 0 {
		t.Errorf("after Replace(nil) = %v", got)
	}
}

func TestActiveModelSetConcurrentWriters(t *testing.T) {
	s := NewActiveModelSet()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			s.Add(id)
		}(id)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	if got := s.Snapshot(); len(got) != len(ids) {
		t.Errorf("lost updates: %v", got)
	}
}
