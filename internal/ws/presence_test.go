package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-hub/internal/mocks"
	"chat-hub/internal/models"
)

const testGrace = 60 * time.Millisecond

type recordingMirror struct {
	mu      sync.Mutex
	online  []int
	offline []int
}

func (m *recordingMirror) SetOnline(_ context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *recordingMirror) SetOffline(_ context.Context, userID int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func (m *recordingMirror) offlineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offline)
}

// watcher accumulates presence frames seen by one client.
type watcher struct {
	t      *testing.T
	c      *Client
	mu     sync.Mutex
	events []models.PresenceChanged
}

func (w *watcher) poll() []models.PresenceChanged {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range drain(w.t, w.c) {
		if f.Type != string(models.EventPresenceChanged) {
			continue
		}
		var p models.PresenceChanged
		require.NoError(w.t, json.Unmarshal(f.Payload, &p))
		w.events = append(w.events, p)
	}
	return append([]models.PresenceChanged(nil), w.events...)
}

func (w *watcher) about(userID int, status models.Status) func() bool {
	return func() bool {
		for _, p := range w.poll() {
			if p.UserID == userID && p.Status == status {
				return true
			}
		}
		return false
	}
}

func startHub(t *testing.T, store *mocks.MemoryStore, mirror PresenceMirror) *Hub {
	t.Helper()
	hub := NewHub(HubConfig{PresenceGrace: testGrace, IOTimeout: time.Second}, allowAll, store, mirror)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func watch(t *testing.T, hub *Hub, userID int) *watcher {
	c := newTestClient(userID, 64)
	hub.Registry.Register(c)
	return &watcher{t: t, c: c}
}

func TestPresenceOnlineThenOfflineAfterGrace(t *testing.T) {
	store := mocks.NewMemoryStore()
	mirror := &recordingMirror{}
	hub := startHub(t, store, mirror)
	w := watch(t, hub, 2)

	a := newTestClient(1, 8)
	hub.Registry.Register(a)
	require.Eventually(t, w.about(1, models.StatusOnline), time.Second, 5*time.Millisecond)
	assert.True(t, hub.Presence.Online(1))

	disconnected := time.Now()
	hub.Registry.Unregister(a.ID)
	assert.True(t, hub.Presence.Online(1), "still online during grace")

	require.Eventually(t, w.about(1, models.StatusOffline), time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(disconnected), testGrace)
	assert.False(t, hub.Presence.Online(1))
	assert.NotNil(t, store.LastSeen(1))
	assert.Equal(t, 1, mirror.offlineCount())

	for _, p := range w.poll() {
		if p.UserID == 1 && p.Status == models.StatusOffline {
			assert.NotNil(t, p.LastSeen)
		}
	}
}

func TestPresenceReconnectWithinGraceStaysOnline(t *testing.T) {
	store := mocks.NewMemoryStore()
	hub := startHub(t, store, nil)
	w := watch(t, hub, 2)

	a := newTestClient(1, 8)
	hub.Registry.Register(a)
	require.Eventually(t, w.about(1, models.StatusOnline), time.Second, 5*time.Millisecond)

	hub.Registry.Unregister(a.ID)
	hub.Registry.Register(newTestClient(1, 8))

	require.Never(t, w.about(1, models.StatusOffline), 3*testGrace, 10*time.Millisecond)
	assert.True(t, hub.Presence.Online(1))

	onlines := 0
	for _, p := range w.poll() {
		if p.UserID == 1 && p.Status == models.StatusOnline {
			onlines++
		}
	}
	assert.Equal(t, 1, onlines)
}

func TestPresenceSecondConnectionKeepsUserOnline(t *testing.T) {
	store := mocks.NewMemoryStore()
	hub := startHub(t, store, nil)
	w := watch(t, hub, 2)

	a1, a2 := newTestClient(1, 8), newTestClient(1, 8)
	hub.Registry.Register(a1)
	hub.Registry.Register(a2)
	require.Eventually(t, w.about(1, models.StatusOnline), time.Second, 5*time.Millisecond)

	hub.Registry.Unregister(a1.ID)
	require.Never(t, w.about(1, models.StatusOffline), 3*testGrace, 10*time.Millisecond)

	hub.Registry.Unregister(a2.ID)
	require.Eventually(t, w.about(1, models.StatusOffline), time.Second, 5*time.Millisecond)
}

func TestPresenceHonoursVisibility(t *testing.T) {
	store := mocks.NewMemoryStore()
	store.SetVisibility(1, models.VisibilityContacts)
	store.SetContacts(1, 3)
	store.SetVisibility(4, models.VisibilityNobody)
	hub := startHub(t, store, nil)

	stranger := watch(t, hub, 2)
	contact := watch(t, hub, 3)

	hub.Registry.Register(newTestClient(1, 8))
	require.Eventually(t, contact.about(1, models.StatusOnline), time.Second, 5*time.Millisecond)
	assert.False(t, stranger.about(1, models.StatusOnline)())

	hub.Registry.Register(newTestClient(4, 8))
	require.Never(t, func() bool {
		return contact.about(4, models.StatusOnline)() || stranger.about(4, models.StatusOnline)()
	}, 3*testGrace, 10*time.Millisecond)
	assert.True(t, hub.Presence.Online(4))
}

func TestPresenceKeepsManualStatus(t *testing.T) {
	store := mocks.NewMemoryStore()
	require.NoError(t, store.SetStatus(context.Background(), 1, models.StatusBusy))
	hub := startHub(t, store, nil)
	w := watch(t, hub, 2)

	hub.Registry.Register(newTestClient(1, 8))
	require.Eventually(t, w.about(1, models.StatusBusy), time.Second, 5*time.Millisecond)
}
