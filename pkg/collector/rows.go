// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector

import "sort"

// NamespaceRow is one line of the I/O view, in fixed column order:
// NSID, RBD Image, IOPS, r/s, rMB/s, r_await, rareq-sz, w/s, wMB/s,
// w_await, wareq-sz, LBGrp, QoS.
type NamespaceRow struct {
	NSID       int
	Image      string
	TotalOps   int64
	ReadOps    int64
	ReadMB     float64
	ReadAwait  float64
	ReadReqSz  float64
	WriteOps   int64
	WriteMB    float64
	WriteAwait float64
	WriteReqSz float64
	LBGroup    string
	QoS        string
}

// NamespaceColumns is the number of sortable columns in the I/O view.
const NamespaceColumns = 13

// less compares a single column of two rows. Numeric columns compare
// numerically so a sort by rMB/s orders 9.50 below 10.00.
func (r NamespaceRow) less(other NamespaceRow, col int) bool {
	switch col {
	case 0:
		return r.NSID < other.NSID
	case 1:
		return r.Image < other.Image
	case 2:
		return r.TotalOps < other.TotalOps
	case 3:
		return r.ReadOps < other.ReadOps
	case 4:
		return r.ReadMB < other.ReadMB
	case 5:
		return r.ReadAwait < other.ReadAwait
	case 6:
		return r.ReadReqSz < other.ReadReqSz
	case 7:
		return r.WriteOps < other.WriteOps
	case 8:
		return r.WriteMB < other.WriteMB
	case 9:
		return r.WriteAwait < other.WriteAwait
	case 10:
		return r.WriteReqSz < other.WriteReqSz
	case 11:
		return r.LBGroup < other.LBGroup
	case 12:
		return r.QoS < other.QoS
	default:
		return false
	}
}

func sortNamespaceRows(rows []NamespaceRow, col int, descending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		if descending {
			return rows[j].less(rows[i], col)
		}
		return rows[i].less(rows[j], col)
	})
}

// ReactorRow is one line of the CPU view: Gateway, Thread Name, Busy Rate%,
// Idle Rate%. Rates are fractional; presentation scales them to percent.
type ReactorRow struct {
	Gateway  string
	Thread   string
	BusyRate float64
	IdleRate float64
}

// ReactorColumns is the number of sortable columns in the CPU view.
const ReactorColumns = 4

func (r ReactorRow) less(other ReactorRow, col int) bool {
	switch col {
	case 0:
		return r.Gateway < other.Gateway
	case 1:
		return r.Thread < other.Thread
	case 2:
		return r.BusyRate < other.BusyRate
	case 3:
		return r.IdleRate < other.IdleRate
	default:
		return false
	}
}

func sortReactorRows(rows []ReactorRow, col int, descending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		if descending {
			return rows[j].less(rows[i], col)
		}
		return rows[i].less(rows[j], col)
	})
}
