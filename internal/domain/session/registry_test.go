package session

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// mockStore is a simple in-memory mock for testing.
type mockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]*Session)}
}

func (m *mockStore) Put(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *mockStore) Update(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sess := range m.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Compile-time check that mockStore implements Store.
var _ Store = (*mockStore)(nil)

func TestGenerateID(t *testing.T) {
	t.Run("generates unique IDs", func(t *testing.T) {
		ids := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id, err := GenerateID()
			if err != nil {
				t.Fatalf("GenerateID() error = %v", err)
			}
			if ids[id] {
				t.Errorf("GenerateID() generated duplicate ID: %s", id)
			}
			ids[id] = true
		}
	})

	t.Run("ID is 48 hex characters", func(t *testing.T) {
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("GenerateID() error = %v", err)
		}
		if len(id) != 48 {
			t.Errorf("GenerateID() len = %d, want 48", len(id))
		}
		for _, c := range id {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				t.Errorf("GenerateID() contains non-hex character: %c", c)
			}
		}
	})

	t.Run("prefix carries current time, suffix is random", func(t *testing.T) {
		before := time.Now().UnixNano()
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("GenerateID() error = %v", err)
		}
		after := time.Now().UnixNano()

		raw, err := hex.DecodeString(id)
		if err != nil {
			t.Fatalf("id is not hex: %v", err)
		}
		stamp := int64(binary.BigEndian.Uint64(raw[:8]))
		if stamp < before || stamp > after {
			t.Errorf("time prefix %d outside [%d, %d]", stamp, before, after)
		}

		// Two IDs in the same instant must still differ in the random suffix.
		other, _ := GenerateID()
		if id[16:] == other[16:] {
			t.Error("random suffixes collided across two IDs")
		}
	})
}

func TestRegistryGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty id creates under generated id", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegistry(store, Config{Timeout: time.Hour})

		sess, created, err := reg.GetOrCreate(ctx, "", "10.1.2.3")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if !created {
			t.Error("created = false, want true")
		}
		if len(sess.ID) != 48 {
			t.Errorf("generated id len = %d, want 48", len(sess.ID))
		}
		if sess.Origin != "10.1.2.3" {
			t.Errorf("Origin = %q, want %q", sess.Origin, "10.1.2.3")
		}
	})

	t.Run("live id resumes without touching LastActivity", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegistry(store, Config{Timeout: time.Hour})

		first, _, err := reg.GetOrCreate(ctx, "", "10.1.2.3")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}

		resumed, created, err := reg.GetOrCreate(ctx, first.ID, "10.9.9.9")
		if err != nil {
			t.Fatalf("GetOrCreate(resume) error = %v", err)
		}
		if created {
			t.Error("created = true on resume, want false")
		}
		if resumed.ID != first.ID {
			t.Errorf("resumed id = %q, want %q", resumed.ID, first.ID)
		}
		if !resumed.LastActivity.Equal(first.LastActivity) {
			t.Errorf("LastActivity changed on resume: %v -> %v", first.LastActivity, resumed.LastActivity)
		}
		if n, _ := store.Count(ctx); n != 1 {
			t.Errorf("store count = %d after resume, want 1", n)
		}
	})

	t.Run("provided unknown id creates under that id", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegistry(store, Config{Timeout: time.Hour})

		sess, created, err := reg.GetOrCreate(ctx, "client-chosen-id", "local")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if !created || sess.ID != "client-chosen-id" {
			t.Errorf("got (created=%v, id=%q), want fresh session under provided id", created, sess.ID)
		}
	})

	t.Run("expired id yields fresh session under same id", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegistry(store, Config{Timeout: time.Hour})

		stale := &Session{
			ID:           "stale-id",
			CreatedAt:    time.Now().UTC().Add(-3 * time.Hour),
			LastActivity: time.Now().UTC().Add(-2 * time.Hour),
		}
		if err := store.Put(ctx, stale); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		sess, created, err := reg.GetOrCreate(ctx, "stale-id", "local")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if !created {
			t.Error("created = false for expired id, want true")
		}
		if sess.ID != "stale-id" {
			t.Errorf("id = %q, want %q", sess.ID, "stale-id")
		}
		if sess.CreatedAt.Equal(stale.CreatedAt) {
			t.Error("fresh session kept stale CreatedAt")
		}
	})
}

func TestRegistryGet(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegistry(store, Config{Timeout: time.Hour})

	stale := &Session{ID: "stale", LastActivity: time.Now().UTC().Add(-2 * time.Hour)}
	_ = store.Put(ctx, stale)

	if _, err := reg.Get(ctx, "stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(expired) error = %v, want ErrSessionNotFound", err)
	}
	// Expired entry must be removed on lookup.
	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired entry still in store after Get: err = %v", err)
	}

	if _, err := reg.Get(ctx, "absent"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(absent) error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryTouch(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegistry(store, Config{Timeout: time.Hour})

	sess, _, err := reg.GetOrCreate(ctx, "", "local")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	before := sess.LastActivity

	time.Sleep(5 * time.Millisecond)
	reg.Touch(ctx, sess.ID)

	after, err := reg.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !after.LastActivity.After(before) {
		t.Errorf("LastActivity not advanced: %v -> %v", before, after.LastActivity)
	}

	// Absent id is a silent no-op.
	reg.Touch(ctx, "no-such-session")
}

func TestRegistryTouchLive(t *testing.T) {
	ctx := context.Background()

	t.Run("absent id", func(t *testing.T) {
		reg := NewRegistry(newMockStore(), Config{Timeout: time.Hour})
		if got := reg.TouchLive(ctx, "absent"); got != StandingUnknown {
			t.Errorf("TouchLive(absent) = %v, want StandingUnknown", got)
		}
	})

	t.Run("live id refreshes activity", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegistry(store, Config{Timeout: time.Hour})

		sess, _, err := reg.GetOrCreate(ctx, "", "local")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		before := sess.LastActivity

		time.Sleep(5 * time.Millisecond)
		if got := reg.TouchLive(ctx, sess.ID); got != StandingLive {
			t.Fatalf("TouchLive(live) = %v, want StandingLive", got)
		}

		after, err := store.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !after.LastActivity.After(before) {
			t.Errorf("LastActivity not advanced: %v -> %v", before, after.LastActivity)
		}
	})

	t.Run("expired id removed on report", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegistry(store, Config{Timeout: time.Hour})

		stale := &Session{ID: "stale", LastActivity: time.Now().UTC().Add(-2 * time.Hour)}
		if err := store.Put(ctx, stale); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		if got := reg.TouchLive(ctx, "stale"); got != StandingExpired {
			t.Errorf("TouchLive(expired) = %v, want StandingExpired", got)
		}
		if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expired entry still stored after TouchLive: err = %v", err)
		}

		// The same id now starts a fresh session.
		sess, created, err := reg.GetOrCreate(ctx, "stale", "local")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if !created || sess.ID != "stale" {
			t.Errorf("got (created=%v, id=%q), want fresh session under same id", created, sess.ID)
		}
	})
}

func TestRegistryRemove(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegistry(store, Config{Timeout: time.Hour})

	sess, _, err := reg.GetOrCreate(ctx, "", "local")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := reg.Remove(ctx, sess.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if reg.IsLive(ctx, sess.ID) {
		t.Error("session still live after Remove")
	}
	if err := reg.Remove(ctx, "absent"); err != nil {
		t.Errorf("Remove(absent) error = %v, want nil", err)
	}
}

func TestRegistryIsLive(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegistry(store, Config{Timeout: time.Hour})

	live, _, _ := reg.GetOrCreate(ctx, "", "local")
	_ = store.Put(ctx, &Session{ID: "stale", LastActivity: time.Now().UTC().Add(-2 * time.Hour)})

	if !reg.IsLive(ctx, live.ID) {
		t.Error("IsLive(live) = false, want true")
	}
	if reg.IsLive(ctx, "stale") {
		t.Error("IsLive(expired) = true, want false")
	}
	if reg.IsLive(ctx, "absent") {
		t.Error("IsLive(absent) = true, want false")
	}
}

func TestRegistrySweepExpired(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegistry(store, Config{Timeout: time.Hour})

	now := time.Now().UTC()
	_ = store.Put(ctx, &Session{ID: "live-1", LastActivity: now})
	_ = store.Put(ctx, &Session{ID: "stale-1", LastActivity: now.Add(-2 * time.Hour)})
	_ = store.Put(ctx, &Session{ID: "stale-2", LastActivity: now.Add(-3 * time.Hour)})

	if got := reg.SweepExpired(ctx); got != 2 {
		t.Errorf("SweepExpired() = %d, want 2", got)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("store count after sweep = %d, want 1", n)
	}
	if !reg.IsLive(ctx, "live-1") {
		t.Error("live session removed by sweep")
	}
}

// TestRegistrySweepLoopNoGoroutineLeak verifies the sweeper exits cleanly.
func TestRegistrySweepLoopNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	store := newMockStore()
	reg := NewRegistry(store, Config{Timeout: time.Hour, SweepInterval: 10 * time.Millisecond})

	_ = store.Put(ctx, &Session{ID: "stale", LastActivity: time.Now().UTC().Add(-2 * time.Hour)})
	reg.StartSweep(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := store.Count(ctx); n == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("stale session not swept by background loop, count = %d", n)
	}

	cancel()
	reg.Stop()
}

func TestRegistryDefaults(t *testing.T) {
	reg := NewRegistry(newMockStore(), Config{})
	if reg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", reg.Timeout(), DefaultTimeout)
	}
	if reg.sweepInterval != DefaultSweepInterval {
		t.Errorf("sweepInterval = %v, want %v", reg.sweepInterval, DefaultSweepInterval)
	}
}
