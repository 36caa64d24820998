package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
)

// DefaultWindow is the number of items processed concurrently per window.
const DefaultWindow = 3

// Outcome is the result of one batch item. Exactly one of Value or Err is meaningful.
type Outcome[T any] struct {
	Index int
	Input string
	Value T
	Err   error
}

// Scheduler runs items in fixed-size windows. Every item of a window runs concurrently
// and the next window starts only once the whole window has finished.
type Scheduler struct {
	Window      int
	ItemTimeout time.Duration // per-item deadline; zero disables it
}

// NewScheduler returns a Scheduler with the given window size.
func NewScheduler(window int, itemTimeout time.Duration) Scheduler {
	return Scheduler{Window: window, ItemTimeout: itemTimeout}
}

// Windows splits n items into [start, end) index ranges of at most window items.
func Windows(n, window int) [][2]int {
	if window <= 0 {
		window = DefaultWindow
	}
	var out [][2]int
	for start := 0; start < n; start += window {
		out = append(out, [2]int{start, min(start+window, n)})
	}
	return out
}

// Run applies fn to every input and returns one outcome per input, in input order.
// A failing or panicking item only affects its own outcome.
func Run[T any](ctx context.Context, s Scheduler, inputs []string, fn func(context.Context, string) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], len(inputs))

	for _, w := range Windows(len(inputs), s.Window) {
		var wg conc.WaitGroup
		for i := w[0]; i < w[1]; i++ {
			i := i
			wg.Go(func() {
				outcomes[i] = runItem(ctx, s, i, inputs[i], fn)
			})
		}
		wg.Wait()
	}

	return outcomes
}

func runItem[T any](ctx context.Context, s Scheduler, index int, input string, fn func(context.Context, string) (T, error)) (out Outcome[T]) {
	out = Outcome[T]{Index: index, Input: input}

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	itemCtx := ctx
	if s.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, s.ItemTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic processing %s: %v", input, r)
		}
	}()

	out.Value, out.Err = fn(itemCtx, input)
	return out
}
