package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradeshare/internal/errors"
	"tradeshare/internal/models"
	"tradeshare/internal/store"
)

// Hint says that a position may have changed. ReplicaID is empty when the
// user owns the position rather than holding a replica of it.
type Hint struct {
	PositionID models.PositionID  `json:"positionId"`
	ReplicaID  models.ReplicaID   `json:"replicaId,omitempty"`
	Events     int                `json:"events"`
	Types      []models.EventType `json:"types"`
}

// Poller periodically peeks at the event queue and reports hints. It never
// consumes events or writes anything; applying a sync is always explicit.
type Poller struct {
	store    store.Store
	user     models.UserID
	interval time.Duration
	onHint   func([]Hint)
	logger   zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewPoller creates a poller for user that calls onHint whenever a tick
// finds pending events.
func NewPoller(s store.Store, user models.UserID, interval time.Duration, onHint func([]Hint), logger zerolog.Logger) *Poller {
	return &Poller{
		store:    s,
		user:     user,
		interval: interval,
		onHint:   onHint,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Start launches the background loop. It returns an error if the poller is
// already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("poller already running")
	}
	if p.interval <= 0 {
		return errors.NewValidationError("interval", p.interval, "must be positive")
	}

	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(ctx, p.stopCh)
	return nil
}

// Stop ends the background loop and waits for it to exit. It is safe to
// call on a poller that is not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			hints, err := p.Poll(ctx)
			if err != nil {
				p.logger.Warn().Err(err).Msg("Event poll failed")
				continue
			}
			if len(hints) > 0 && p.onHint != nil {
				p.onHint(hints)
			}
		}
	}
}

// Poll runs one read-only check and returns a hint per position with
// pending events, ordered by position id.
func (p *Poller) Poll(ctx context.Context) ([]Hint, error) {
	pending, err := p.store.Pending(ctx, p.user)
	if err != nil {
		return nil, err
	}

	byPosition := make(map[models.PositionID]*Hint)
	for _, ev := range pending {
		h, ok := byPosition[ev.PositionID]
		if !ok {
			h = &Hint{PositionID: ev.PositionID}
			byPosition[ev.PositionID] = h
		}
		h.Events++
		if !containsType(h.Types, ev.Type) {
			h.Types = append(h.Types, ev.Type)
		}
	}

	out := make([]Hint, 0, len(byPosition))
	for _, h := range byPosition {
		r, err := p.store.GetReplicaByOriginal(ctx, p.user, h.PositionID)
		switch {
		case err == nil:
			h.ReplicaID = r.ID
		case !errors.Is(err, errors.ErrNotFound):
			return nil, err
		}
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out, nil
}

func containsType(types []models.EventType, t models.EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
