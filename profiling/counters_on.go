//go:build profile

package profiling

import (
	"time"

	"github.com/sbl8/edgeinfer/model"
)

// Enabled reports whether this binary collects profiles.
const Enabled = true

type kindCounter struct {
	calls   int64
	elapsed time.Duration
	ops     int64
	bytes   int64
}

// Counters accumulates statistics between reports. It is confined to the
// goroutine that drives the engine. A nil *Counters records nothing.
type Counters struct {
	kinds       [model.NumOpKinds]kindCounter
	invocations int64
	total       time.Duration
}

func New() *Counters {
	return &Counters{}
}

// Measure times fn as one invocation.
func (c *Counters) Measure(fn func() error) error {
	if c == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	c.total += time.Since(start)
	c.invocations++
	return err
}

// Record adds one operator execution.
func (c *Counters) Record(kind model.OpKind, elapsed time.Duration, ops, bytes int64) {
	if c == nil || kind >= model.NumOpKinds {
		return
	}
	k := &c.kinds[kind]
	k.calls++
	k.elapsed += elapsed
	k.ops += ops
	k.bytes += bytes
}

// Snapshot returns the current report without resetting.
func (c *Counters) Snapshot() Report {
	if c == nil {
		return Report{}
	}
	r := Report{Invocations: c.invocations, Total: c.total}
	for i := range c.kinds {
		k := &c.kinds[i]
		if k.calls == 0 {
			continue
		}
		r.Kinds = append(r.Kinds, newKindReport(model.OpKind(i), k.calls, k.elapsed, k.ops, k.bytes))
	}
	return r
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	*c = Counters{}
}

// ReportAndReset returns the accumulated report and zeroes the counters.
func (c *Counters) ReportAndReset() Report {
	r := c.Snapshot()
	c.Reset()
	return r
}
