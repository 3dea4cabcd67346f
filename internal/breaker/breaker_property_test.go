package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// TestProperty_BreakerInvariants drives a circuit with random operation
// sequences and checks the state invariants after every step.
func TestProperty_BreakerInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newFakeClock()
		threshold := rapid.IntRange(1, 5).Draw(rt, "threshold")
		b := NewBank(Config{
			FailureThreshold: threshold,
			ResetTimeout:     10 * time.Second,
			Now:              clock.Now,
		}, zap.NewNop())

		var outstanding []Ticket
		steps := rapid.IntRange(1, 80).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0, 1:
				tk := b.Admit("s")
				if tk.Admitted() {
					outstanding = append(outstanding, tk)
				}
			case 2, 3:
				if len(outstanding) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(outstanding)-1).Draw(rt, "ticket")
				tk := outstanding[idx]
				outstanding = append(outstanding[:idx], outstanding[idx+1:]...)
				if rapid.IntRange(0, 9).Draw(rt, "release") == 0 {
					b.Release(tk)
				} else {
					b.Report(tk, rapid.Bool().Draw(rt, "success"))
				}
			case 4:
				clock.Advance(time.Duration(rapid.IntRange(1, 15).Draw(rt, "advance")) * time.Second)
			case 5:
				if rapid.IntRange(0, 19).Draw(rt, "reset") == 0 {
					b.Reset("s")
				}
			}

			st := b.State("s")
			switch st.Phase {
			case Closed:
				require.Less(rt, st.Failures, threshold, "closed circuit at or above threshold")
			case Open, HalfOpen:
				require.GreaterOrEqual(rt, st.Failures, threshold, "open circuit below threshold")
				require.False(rt, st.OpenedAt.After(clock.Now()), "opened_at in the future")
			}

			c, ok := b.existing("s")
			if !ok {
				continue
			}
			c.mu.Lock()
			live := 0
			for _, tk := range outstanding {
				if tk.trial && tk.epoch == c.epoch {
					live++
				}
			}
			inTrial := c.inTrial
			phase := c.phase
			c.mu.Unlock()
			require.LessOrEqual(rt, live, 1, "more than one live half-open trial")
			if phase == HalfOpen && live == 1 {
				require.True(rt, inTrial, "live trial without the slot held")
			}
		}
	})
}
