// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector

// PerformanceStats aggregates the six cumulative I/O counters of one
// namespace, keyed by its backing-device name, and derives the per-interval
// rate metrics from them. One instance exists per (daemon, bdev) pair for
// the lifetime of the collector so counter history carries across polls.
type PerformanceStats struct {
	Bdev string

	ReadOps    Counter
	ReadBytes  Counter
	ReadSecs   Counter
	WriteOps   Counter
	WriteBytes Counter
	WriteSecs  Counter

	ReadOpsRate    float64
	WriteOpsRate   float64
	ReadBytesRate  float64
	WriteBytesRate float64
	ReadSecsRate   float64
	WriteSecsRate  float64
	TotalOpsRate   float64

	// Average request size in KiB and average wait in ms, per direction.
	ReadReqSize  float64
	WriteReqSize float64
	ReadAwait    float64
	WriteAwait   float64
}

// NewPerformanceStats creates the aggregate for one backing device.
func NewPerformanceStats(bdev string) *PerformanceStats {
	return &PerformanceStats{Bdev: bdev}
}

// Calculate derives every rate field for the given interval. It is the sole
// mutator of the derived fields and must run before any of them is read for
// the current pass. When an ops rate is zero the dependent size and await
// metrics are zero, never a division by zero.
func (p *PerformanceStats) Calculate(interval float64) {
	p.ReadOpsRate = p.ReadOps.Rate(interval)
	p.ReadBytesRate = p.ReadBytes.Rate(interval)
	p.ReadSecsRate = p.ReadSecs.Rate(interval)
	p.WriteOpsRate = p.WriteOps.Rate(interval)
	p.WriteBytesRate = p.WriteBytes.Rate(interval)
	p.WriteSecsRate = p.WriteSecs.Rate(interval)

	p.TotalOpsRate = p.ReadOpsRate + p.WriteOpsRate

	if p.ReadOpsRate != 0 {
		p.ReadReqSize = float64(int64(p.ReadBytesRate/p.ReadOpsRate)) / 1024
		p.ReadAwait = (p.ReadSecsRate / p.ReadOpsRate) * 1000
	} else {
		p.ReadReqSize = 0.0
		p.ReadAwait = 0.0
	}
	if p.WriteOpsRate != 0 {
		p.WriteReqSize = float64(int64(p.WriteBytesRate/p.WriteOpsRate)) / 1024
		p.WriteAwait = (p.WriteSecsRate / p.WriteOpsRate) * 1000
	} else {
		p.WriteReqSize = 0.0
		p.WriteAwait = 0.0
	}
}
