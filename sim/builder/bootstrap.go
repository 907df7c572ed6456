// Package builder advances simulations through the build stages
// (configure, parameterise, bootstrap executions) and wires those stages
// into the demand-driven pipeline that a job runs.
package builder

import (
	"fmt"

	"github.com/ai4ci/jpansim4r/sim"
)

// Bootstrap is one replicate of an axis value: the value and the index that
// distinguishes its random realisation from its siblings.
type Bootstrap[V any] struct {
	Index int
	Value V
}

func (b Bootstrap[V]) String() string {
	if n, ok := any(b.Value).(sim.Named); ok {
		return fmt.Sprintf("%s#%d", n.Name(), b.Index)
	}
	return fmt.Sprintf("%v#%d", b.Value, b.Index)
}

// Bootstraps expands each value into n replicates, indexed 0..n-1, value
// by value. n < 1 is treated as 1.
func Bootstraps[V any](n int, values ...V) []Bootstrap[V] {
	if n < 1 {
		n = 1
	}
	out := make([]Bootstrap[V], 0, n*len(values))
	for _, v := range values {
		for i := 0; i < n; i++ {
			out = append(out, Bootstrap[V]{Index: i, Value: v})
		}
	}
	return out
}

// Replicates returns the execution bootstrap indices 0..n-1. n < 1 is
// treated as 1.
func Replicates(n int) []int {
	if n < 1 {
		n = 1
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
