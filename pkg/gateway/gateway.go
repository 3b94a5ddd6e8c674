// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package gateway defines the control-plane contract exposed by an NVMe-oF
// gateway daemon. The collector depends only on the API interface here; the
// concrete transport lives in subpackages.
package gateway

import "context"

// Info describes the gateway daemon itself.
type Info struct {
	DaemonName         string `json:"daemon_name"`
	LoadBalancingGroup int    `json:"load_balancing_group"`
}

// Subsystem is one entry in the gateway's subsystem catalog.
type Subsystem struct {
	NQN            string `json:"nqn"`
	NamespaceCount int    `json:"namespace_count"`
	MaxNamespaces  int    `json:"max_namespaces"`
}

// SubsystemList is the response to a subsystem catalog fetch. Status is the
// gateway-side result code; anything above zero means the catalog could not
// be produced.
type SubsystemList struct {
	Status     int         `json:"status"`
	Subsystems []Subsystem `json:"subsystems"`
}

// Namespace describes one exposed volume within a subsystem.
type Namespace struct {
	NSID               int    `json:"nsid"`
	BdevName           string `json:"bdev_name"`
	RBDPoolName        string `json:"rbd_pool_name"`
	RBDImageName       string `json:"rbd_image_name"`
	LoadBalancingGroup int    `json:"load_balancing_group"`
	RWIOsPerSecond     uint64 `json:"rw_ios_per_second"`
	RWMBytesPerSecond  uint64 `json:"rw_mbytes_per_second"`
	RMBytesPerSecond   uint64 `json:"r_mbytes_per_second"`
	WMBytesPerSecond   uint64 `json:"w_mbytes_per_second"`
}

// QoSEnabled reports whether any of the namespace's rate limits is set.
func (n Namespace) QoSEnabled() bool {
	return n.RWIOsPerSecond != 0 || n.RWMBytesPerSecond != 0 ||
		n.RMBytesPerSecond != 0 || n.WMBytesPerSecond != 0
}

// NamespaceList is the response to a per-subsystem namespace fetch.
type NamespaceList struct {
	Namespaces []Namespace `json:"namespaces"`
}

// NamespaceIOStats carries the cumulative I/O counters for every namespace
// served by one gateway. Latency counters are in ticks and must be divided
// by TickRate to obtain seconds.
type NamespaceIOStats struct {
	TickRate   float64          `json:"tick_rate"`
	Namespaces []NamespaceStats `json:"namespaces"`
}

// NamespaceStats is the cumulative counter set for a single namespace.
type NamespaceStats struct {
	BdevName          string `json:"bdev_name"`
	NumReadOps        uint64 `json:"num_read_ops"`
	BytesRead         uint64 `json:"bytes_read"`
	ReadLatencyTicks  uint64 `json:"read_latency_ticks"`
	NumWriteOps       uint64 `json:"num_write_ops"`
	BytesWritten      uint64 `json:"bytes_written"`
	WriteLatencyTicks uint64 `json:"write_latency_ticks"`
}

// ThreadStats carries the cumulative busy/idle counters of the gateway's
// polling threads. Busy and Idle are in ticks, divided by TickRate for
// seconds.
type ThreadStats struct {
	TickRate float64  `json:"tick_rate"`
	Threads  []Thread `json:"threads"`
}

// Thread is one polling thread's cumulative counters.
type Thread struct {
	Name string `json:"name"`
	Busy uint64 `json:"busy"`
	Idle uint64 `json:"idle"`
}

// API enumerates the gateway operations the collector needs. Implementations
// wrap a single gateway endpoint; handles are cached and reused across polls
// so remote session state is amortized.
type API interface {
	// Addr returns the endpoint this handle is bound to.
	Addr() string

	// DaemonName returns the daemon identity of the bound gateway, as
	// resolved from the fleet topology at connect time.
	DaemonName() string

	// ServiceName returns the fleet service the bound gateway belongs to.
	ServiceName() string

	Info(ctx context.Context) (*Info, error)
	Subsystems(ctx context.Context) (*SubsystemList, error)
	Namespaces(ctx context.Context, nqn string) (*NamespaceList, error)
	NamespaceIOStats(ctx context.Context) (*NamespaceIOStats, error)
	ThreadStats(ctx context.Context) (*ThreadStats, error)

	Close() error
}
