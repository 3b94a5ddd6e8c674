// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector

// Counter tracks a cumulative monotonic reading and the reading before it,
// which is all the history rate derivation needs. A Counter lives as long as
// its owning aggregate and is never reset.
type Counter struct {
	current float64
	last    float64
}

// Update records a new absolute reading, demoting the previous one.
// Values are taken as-is: a remote counter reset (current < last) is not
// corrected here and will show up as a negative rate for one interval.
func (c *Counter) Update(value float64) {
	c.last = c.current
	c.current = value
}

// Current returns the most recent absolute reading.
func (c *Counter) Current() float64 {
	return c.current
}

// Rate returns the per-second change over the given interval, or 0 when the
// interval is zero.
func (c *Counter) Rate(interval float64) float64 {
	if interval == 0 {
		return 0.0
	}
	return (c.current - c.last) / interval
}
