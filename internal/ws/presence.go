package ws

import (
	"context"
	"sync"
	"time"

	"chat-hub/internal/log"
	"chat-hub/internal/models"
	"chat-hub/internal/observability"
)

// PresenceStore is the durable side of presence.
type PresenceStore interface {
	PresenceSettings(ctx context.Context, userID int) (models.PresenceSettings, error)
	ContactIDs(ctx context.Context, userID int) ([]int, error)
	SetLastSeen(ctx context.Context, userID int, at time.Time) error
}

// PresenceMirror publishes presence to a shared cache for other services.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID int) error
	SetOffline(ctx context.Context, userID int, lastSeen time.Time) error
}

type PresenceConfig struct {
	Grace     time.Duration
	IOTimeout time.Duration
}

// Presence derives online/offline transitions from registry changes.
//
// All state is owned by the Run goroutine. Registry changes arrive through
// Notify; the tracker re-reads the live connection count, so a burst of
// changes for one user collapses into the transitions it actually produced.
// A user whose count drops to zero stays online for the grace window and is
// declared offline only if the count is still zero when it elapses.
type Presence struct {
	registry *Registry
	mc       *Multicaster
	store    PresenceStore
	mirror   PresenceMirror
	cfg      PresenceConfig
	now      func() time.Time

	mu      sync.Mutex
	pending []int
	wake    chan struct{}
	expired chan expiry
	quit    chan struct{}
	once    sync.Once

	states map[int]*presenceState
	online sync.Map
}

type presenceState struct {
	online bool
	timer  *time.Timer
	gen    uint64
}

type expiry struct {
	userID int
	gen    uint64
}

func NewPresence(registry *Registry, mc *Multicaster, store PresenceStore, mirror PresenceMirror, cfg PresenceConfig) *Presence {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 5 * time.Second
	}
	return &Presence{
		registry: registry,
		mc:       mc,
		store:    store,
		mirror:   mirror,
		cfg:      cfg,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		expired:  make(chan expiry),
		quit:     make(chan struct{}),
		states:   make(map[int]*presenceState),
	}
}

// Notify queues a recount for userID. It never blocks.
func (p *Presence) Notify(userID int) {
	p.mu.Lock()
	p.pending = append(p.pending, userID)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Online reports the tracker's view, which stays true during the grace window.
func (p *Presence) Online(userID int) bool {
	_, ok := p.online.Load(userID)
	return ok
}

// Run processes transitions until ctx is done.
func (p *Presence) Run(ctx context.Context) error {
	defer p.once.Do(func() { close(p.quit) })
	defer func() {
		for _, st := range p.states {
			if st.timer != nil {
				st.timer.Stop()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
			p.mu.Lock()
			batch := p.pending
			p.pending = nil
			p.mu.Unlock()
			for _, userID := range batch {
				p.reconcile(ctx, userID)
			}
		case e := <-p.expired:
			p.expire(ctx, e)
		}
	}
}

func (p *Presence) reconcile(ctx context.Context, userID int) {
	count := p.registry.Count(userID)
	st := p.states[userID]

	if count > 0 {
		if st == nil {
			st = &presenceState{}
			p.states[userID] = st
		}
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
			st.gen++
		}
		if !st.online {
			st.online = true
			p.online.Store(userID, struct{}{})
			p.confirmOnline(ctx, userID)
		}
		return
	}

	if st == nil || !st.online || st.timer != nil {
		return
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(p.cfg.Grace, func() {
		select {
		case p.expired <- expiry{userID: userID, gen: gen}:
		case <-p.quit:
		}
	})
}

func (p *Presence) expire(ctx context.Context, e expiry) {
	st := p.states[e.userID]
	if st == nil || st.gen != e.gen || st.timer == nil {
		return
	}
	st.timer = nil
	if p.registry.Count(e.userID) > 0 {
		return
	}
	delete(p.states, e.userID)
	p.online.Delete(e.userID)
	p.confirmOffline(ctx, e.userID)
}

func (p *Presence) confirmOnline(ctx context.Context, userID int) {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()

	if p.mirror != nil {
		if err := p.mirror.SetOnline(ioCtx, userID); err != nil {
			logger := log.L()
			logger.Warn().Err(err).Int(log.FieldUserID, userID).Msg("presence mirror online")
		}
	}
	settings, err := p.store.PresenceSettings(ioCtx, userID)
	if err != nil {
		logger := log.L()
		logger.Error().Err(err).Int(log.FieldUserID, userID).Msg("load presence settings")
		return
	}
	status := models.StatusOnline
	if settings.Status == models.StatusAway || settings.Status == models.StatusBusy {
		status = settings.Status
	}
	observability.IncPresenceTransition(string(models.StatusOnline))
	p.announce(ioCtx, userID, settings, status, nil)
}

// confirmOffline persists lastSeen before announcing it.
func (p *Presence) confirmOffline(ctx context.Context, userID int) {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()

	at := p.now().UTC()
	if err := p.store.SetLastSeen(ioCtx, userID, at); err != nil {
		logger := log.L()
		logger.Error().Err(err).Int(log.FieldUserID, userID).Msg("persist last seen")
	}
	if p.mirror != nil {
		if err := p.mirror.SetOffline(ioCtx, userID, at); err != nil {
			logger := log.L()
			logger.Warn().Err(err).Int(log.FieldUserID, userID).Msg("presence mirror offline")
		}
	}
	settings, err := p.store.PresenceSettings(ioCtx, userID)
	if err != nil {
		logger := log.L()
		logger.Error().Err(err).Int(log.FieldUserID, userID).Msg("load presence settings")
		return
	}
	observability.IncPresenceTransition(string(models.StatusOffline))
	p.announce(ioCtx, userID, settings, models.StatusOffline, &at)
}

// Announce emits a presence change for userID to the audience allowed by the
// user's visibility setting.
func (p *Presence) Announce(ctx context.Context, userID int, status models.Status) error {
	settings, err := p.store.PresenceSettings(ctx, userID)
	if err != nil {
		return err
	}
	p.announce(ctx, userID, settings, status, nil)
	return nil
}

func (p *Presence) announce(ctx context.Context, userID int, settings models.PresenceSettings, status models.Status, lastSeen *time.Time) {
	ev := models.Event{
		Type:    models.EventPresenceChanged,
		Payload: models.PresenceChanged{UserID: userID, Status: status, LastSeen: lastSeen},
	}
	self := Exclude{UserID: userID}

	switch settings.Visibility {
	case models.VisibilityNobody:
		return
	case models.VisibilityContacts:
		contacts, err := p.store.ContactIDs(ctx, userID)
		if err != nil {
			logger := log.L()
			logger.Error().Err(err).Int(log.FieldUserID, userID).Msg("load contacts for presence")
			return
		}
		p.mc.ToUsers(contacts, ev, self)
	default:
		p.mc.Broadcast(ev, self)
	}
}
