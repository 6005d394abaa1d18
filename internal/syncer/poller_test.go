package syncer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradeshare/internal/models"
)

func TestPollIsReadOnly(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(f.store, bob.ID, time.Second, nil, zerolog.Nop())

	for i := 0; i < 2; i++ {
		hints, err := p.Poll(f.ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(hints) != 1 {
			t.Fatalf("poll %d: hints = %+v", i, hints)
		}
		h := hints[0]
		if h.PositionID != f.position || h.ReplicaID != f.replica || h.Events != 1 {
			t.Errorf("poll %d: hint = %+v", i, h)
		}
		if len(h.Types) != 1 || h.Types[0] != models.EventPositionShared {
			t.Errorf("poll %d: types = %v", i, h.Types)
		}
	}
	if !f.pending(t) {
		t.Error("poll consumed events")
	}
}

func TestPollOwnerHintHasNoReplica(t *testing.T) {
	f := newFixture(t)
	if _, err := f.bob.AddReplicaComment(f.ctx, f.replica, "nice entry"); err != nil {
		t.Fatal(err)
	}

	hints, err := NewPoller(f.store, alice.ID, time.Second, nil, zerolog.Nop()).Poll(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 1 || hints[0].ReplicaID != "" || hints[0].Types[0] != models.EventCommentAdded {
		t.Errorf("hints = %+v", hints)
	}
}

func TestPollNothingAfterSync(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.Sync(f.ctx, f.replica, Options{}); err != nil {
		t.Fatal(err)
	}
	hints, err := NewPoller(f.store, bob.ID, time.Second, nil, zerolog.Nop()).Poll(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 0 {
		t.Errorf("hints = %+v, want none", hints)
	}
}

func TestPollerStartStop(t *testing.T) {
	f := newFixture(t)
	got := make(chan []Hint, 16)
	p := NewPoller(f.store, bob.ID, 5*time.Millisecond, func(h []Hint) {
		select {
		case got <- h:
		default:
		}
	}, zerolog.Nop())

	if err := p.Start(f.ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(f.ctx); err == nil {
		t.Error("second Start should fail")
	}

	select {
	case hints := <-got:
		if len(hints) != 1 || hints[0].ReplicaID != f.replica {
			t.Errorf("hints = %+v", hints)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no hint delivered")
	}

	p.Stop()
	p.Stop()
	if !f.pending(t) {
		t.Error("poller consumed events")
	}
}

func TestPollerRejectsZeroInterval(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(f.store, bob.ID, 0, nil, zerolog.Nop())
	if err := p.Start(f.ctx); err == nil {
		p.Stop()
		t.Fatal("zero interval accepted")
	}
}
