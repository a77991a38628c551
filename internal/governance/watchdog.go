package governance

import (
	"time"

	"github.com/polisai/sentinel/pkg/clock"
)

// Watchdog measures the wall-clock duration of the tick pipeline against the
// WCET budget. The duration is only known once the pipeline has finished,
// so an overrun is reported to the tick that follows it.
type Watchdog struct {
	clock   clock.Clock
	budget  time.Duration
	started time.Time
	last    time.Duration
}

// NewWatchdog returns a watchdog enforcing budget on c.
func NewWatchdog(c clock.Clock, budget time.Duration) *Watchdog {
	return &Watchdog{clock: c, budget: budget}
}

// Start marks the beginning of a tick.
func (w *Watchdog) Start() {
	w.started = w.clock.Now()
}

// Stop records the duration since Start.
func (w *Watchdog) Stop() time.Duration {
	w.last = w.clock.Since(w.started)
	return w.last
}

// Overrun reports whether the last completed tick exceeded the budget.
func (w *Watchdog) Overrun() bool {
	return w.last > w.budget
}

// Last returns the duration of the last completed tick.
func (w *Watchdog) Last() time.Duration { return w.last }

func (w *Watchdog) reset() {
	w.last = 0
}
