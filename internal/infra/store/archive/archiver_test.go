package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/musicgen/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	failures int
	puts     int
	objects  map[string]domain.TaskResult
}

func newFakeStore(failures int) *fakeStore {
	return &fakeStore{failures: failures, objects: make(map[string]domain.TaskResult)}
}

func (s *fakeStore) Put(_ context.Context, r domain.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failures > 0 {
		s.failures--
		return errors.New("minio unavailable")
	}
	s.objects[r.TaskID] = r
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (domain.TaskResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.objects[id]
	return r, ok, nil
}

func (s *fakeStore) CleanupOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

func (s *fakeStore) stats() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts, len(s.objects)
}

func TestArchiver_WritesTerminalResults(t *testing.T) {
	store := newFakeStore(0)
	a := NewArchiver(store, 10, 2, 3)
	a.Start(context.Background())

	if a.Enqueue(domain.TaskResult{TaskID: "t0", Status: domain.StatusProcessing}) {
		t.Fatalf("non-terminal result must be rejected")
	}
	if !a.Enqueue(domain.TaskResult{TaskID: "t1", Status: domain.StatusSuccess}) {
		t.Fatalf("Enqueue rejected terminal result")
	}
	if !a.Enqueue(domain.TaskResult{TaskID: "t2", Status: domain.StatusFailure}) {
		t.Fatalf("Enqueue rejected terminal result")
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, n := store.stats(); n != 2 {
		t.Fatalf("archived %d results, want 2", n)
	}
	if r, ok, _ := a.Get(context.Background(), "t1"); !ok || r.Status != domain.StatusSuccess {
		t.Fatalf("Get = %+v, %v", r, ok)
	}
	if a.Enqueue(domain.TaskResult{TaskID: "t3", Status: domain.StatusSuccess}) {
		t.Fatalf("Enqueue after Stop must fail")
	}
}

func TestArchiver_RetriesFailedWrites(t *testing.T) {
	store := newFakeStore(2)
	a := NewArchiver(store, 10, 1, 3)
	a.Start(context.Background())
	a.Enqueue(domain.TaskResult{TaskID: "t1", Status: domain.StatusSuccess})

	deadline := time.Now().Add(time.Second)
	for {
		if _, n := store.stats(); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("result never archived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = a.Stop(context.Background())

	if puts, _ := store.stats(); puts != 3 {
		t.Fatalf("puts = %d, want 3", puts)
	}
}

func TestArchiver_GivesUpAfterMaxRetries(t *testing.T) {
	store := newFakeStore(100)
	a := NewArchiver(store, 10, 1, 2)
	a.Start(context.Background())
	a.Enqueue(domain.TaskResult{TaskID: "t1", Status: domain.StatusFailure})

	time.Sleep(50 * time.Millisecond)
	_ = a.Stop(context.Background())

	puts, n := store.stats()
	if n != 0 || puts != 3 {
		t.Fatalf("puts = %d, archived = %d", puts, n)
	}
}

func TestNop(t *testing.T) {
	n := Nop()
	if n.Enqueue(domain.TaskResult{TaskID: "t", Status: domain.StatusSuccess}) {
		t.Fatalf("nop archive must not accept jobs")
	}
	if _, ok, err := n.Get(context.Background(), "t"); ok || err != nil {
		t.Fatalf("nop Get = (%v, %v)", ok, err)
	}
}
