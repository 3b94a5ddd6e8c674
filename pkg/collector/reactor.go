// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector

// ReactorStats aggregates the busy/idle counters of one gateway polling
// thread and derives its fractional busy/idle rates.
type ReactorStats struct {
	Thread string

	BusySecs Counter
	IdleSecs Counter

	BusyRate float64
	IdleRate float64
}

// NewReactorStats creates the aggregate for one polling thread.
func NewReactorStats(thread string) *ReactorStats {
	return &ReactorStats{Thread: thread}
}

// Calculate derives the busy/idle rates for the given interval.
func (r *ReactorStats) Calculate(interval float64) {
	r.BusyRate = r.BusySecs.Rate(interval)
	r.IdleRate = r.IdleSecs.Rate(interval)
}
