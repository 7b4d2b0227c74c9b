//go:build !profile

package profiling

import (
	"time"

	"github.com/sbl8/edgeinfer/model"
)

// Enabled reports whether this binary collects profiles.
const Enabled = false

// Counters is empty without the profile build tag.
type Counters struct{}

func New() *Counters { return &Counters{} }

func (c *Counters) Measure(fn func() error) error { return fn() }

func (c *Counters) Record(model.OpKind, time.Duration, int64, int64) {}

func (c *Counters) Snapshot() Report { return Report{} }

func (c *Counters) Reset() {}

func (c *Counters) ReportAndReset() Report { return Report{} }
