package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradeshare/internal/models"
)

// For any interleaving of owner publishes and recipient consumes, every
// event reaches the recipient exactly once and in publish order, on both
// backends.
func TestProperty_EventsConsumedExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	dir := t.TempDir()
	run := 0
	open := map[string]func() (Store, error){
		"memory": func() (Store, error) { return NewMemoryStoreWithClock(stepClock()), nil },
		"sqlite": func() (Store, error) {
			run++
			return NewSQLiteStoreWithClock(filepath.Join(dir, fmt.Sprintf("events-%d.db", run)), stepClock())
		},
	}

	for name, newStore := range open {
		newStore := newStore
		properties.Property(name+": consume delivers each event once", prop.ForAll(
			func(ops []bool) bool {
				ctx := context.Background()
				s, err := newStore()
				if err != nil {
					t.Logf("open: %v", err)
					return false
				}
				defer s.Close()

				p := samplePosition()
				var published, consumed []models.EventID
				for _, publish := range ops {
					if publish {
						ev, err := s.Publish(ctx, models.EventCommentAdded, p, p.OwnerID, nil)
						if err != nil {
							return false
						}
						published = append(published, ev.ID)
						continue
					}
					evs, err := s.Consume(ctx, "bob")
					if err != nil {
						return false
					}
					for _, ev := range evs {
						consumed = append(consumed, ev.ID)
					}
				}
				rest, err := s.Consume(ctx, "bob")
				if err != nil {
					return false
				}
				for _, ev := range rest {
					consumed = append(consumed, ev.ID)
				}

				if len(consumed) != len(published) {
					t.Logf("published %d, consumed %d", len(published), len(consumed))
					return false
				}
				for i := range published {
					if published[i] != consumed[i] {
						return false
					}
				}
				pending, err := s.Pending(ctx, "bob")
				return err == nil && len(pending) == 0
			},
			gen.SliceOfN(12, gen.Bool()),
		))
	}

	properties.TestingRun(t)
}
