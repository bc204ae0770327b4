package market

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterest_IncrementTransitions(t *testing.T) {
	in := NewInterest()

	added := in.Increment("msft", "AAPL", "AAPL", " ")
	assert.Equal(t, []string{"AAPL", "MSFT"}, added)
	assert.Equal(t, 1, in.Count("AAPL"), "duplicates within one call count once")

	added = in.Increment("AAPL", "GOOG")
	assert.Equal(t, []string{"GOOG"}, added)
	assert.Equal(t, 2, in.Count("aapl"))
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, in.Symbols())
}

func TestInterest_DecrementTransitions(t *testing.T) {
	in := NewInterest()
	in.Increment("AAPL", "MSFT")
	in.Increment("AAPL")

	removed := in.Decrement("AAPL", "MSFT")
	assert.Equal(t, []string{"MSFT"}, removed)
	assert.True(t, in.Has("AAPL"))
	assert.False(t, in.Has("MSFT"))

	removed = in.Decrement("AAPL")
	assert.Equal(t, []string{"AAPL"}, removed)
	assert.True(t, in.IsEmpty())
}

func TestInterest_DecrementUnknownIsNoop(t *testing.T) {
	in := NewInterest()
	in.Increment("SPY")

	assert.Empty(t, in.Decrement("QQQ"))
	assert.Equal(t, 1, in.Count("SPY"))
	assert.Equal(t, 0, in.Count("QQQ"))
	assert.False(t, in.IsEmpty())
}

func TestInterest_EmptyCalls(t *testing.T) {
	in := NewInterest()

	assert.Empty(t, in.Increment())
	assert.Empty(t, in.Decrement())
	assert.True(t, in.IsEmpty())
	assert.Equal(t, []string{}, in.Symbols())
}

// TestInterest_RandomSequence drives random increment/decrement batches and checks
// the registry against a reference count after every step.
func TestInterest_RandomSequence(t *testing.T) {
	universe := []string{"AAPL", "MSFT", "GOOG", "AMZN", "TSLA", "SPY"}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		in := NewInterest()
		want := make(map[string]int)

		for step := 0; step < 200; step++ {
			batch := make([]string, 0, 3)
			seen := make(map[string]bool)
			for n := rng.Intn(4); n > 0; n-- {
				s := universe[rng.Intn(len(universe))]
				batch = append(batch, s)
				seen[s] = true
			}

			if rng.Intn(2) == 0 {
				added := in.Increment(batch...)
				for s := range seen {
					want[s]++
				}
				for _, s := range added {
					require.Equal(t, 1, want[s], "run %d step %d: %s reported added", run, step, s)
				}
			} else {
				removed := in.Decrement(batch...)
				removedSet := make(map[string]bool, len(removed))
				for _, s := range removed {
					removedSet[s] = true
				}
				for s := range seen {
					if want[s] == 0 {
						require.False(t, removedSet[s])
						continue
					}
					want[s]--
					require.Equal(t, want[s] == 0, removedSet[s], "run %d step %d: %s", run, step, s)
					if want[s] == 0 {
						delete(want, s)
					}
				}
			}

			require.Equal(t, len(want), in.Len())
			require.Equal(t, len(want) == 0, in.IsEmpty())
			for _, s := range universe {
				require.Equal(t, want[s], in.Count(s), "run %d step %d: count(%s)", run, step, s)
				require.Equal(t, want[s] > 0, in.Has(s))
			}
		}
	}
}
