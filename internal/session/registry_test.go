package session

import (
	"sync"
	"testing"
)

type fakeEndpoint struct {
	id string

	mu     sync.Mutex
	events []string
}

func (f *fakeEndpoint) ID() string { return f.id }

func (f *fakeEndpoint) Send(event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEndpoint) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestRegistryAttachBroadcastDetach(t *testing.T) {
	r := NewRegistry()
	a := &fakeEndpoint{id: "ep1"}
	b := &fakeEndpoint{id: "ep2"}

	r.Attach("abc123", a)
	r.Attach("ABC123", b)
	if got := r.Count("abc123"); got != 2 {
		t.Fatalf("count = %d, want 2 (codes must normalize)", got)
	}

	r.Broadcast("abc123", "", "moveMade", nil)
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("broadcast counts = %d/%d", a.count(), b.count())
	}

	r.Broadcast("ABC123", "ep1", "newMessage", nil)
	if a.count() != 1 || b.count() != 2 {
		t.Fatalf("skip sender failed: %d/%d", a.count(), b.count())
	}

	if remaining := r.Detach("abc123", "ep1"); !remaining {
		t.Fatalf("expected remaining connections after first detach")
	}
	if remaining := r.Detach("abc123", "ep2"); remaining {
		t.Fatalf("expected empty session after last detach")
	}
	if r.Count("abc123") != 0 {
		t.Fatalf("registry kept an empty session entry")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ep := &fakeEndpoint{id: string(rune('a' + n))}
			r.Attach("RACE01", ep)
			r.Broadcast("RACE01", "", "playerJoined", nil)
			r.Detach("RACE01", ep.ID())
		}(i)
	}
	wg.Wait()
	if r.Count("RACE01") != 0 {
		t.Fatalf("count = %d after all detached", r.Count("RACE01"))
	}
}
