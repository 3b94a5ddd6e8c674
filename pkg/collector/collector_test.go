// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/nvmeof-top/pkg/collector"
	"github.com/antimetal/nvmeof-top/pkg/gateway"
)

const (
	testNQN     = "nqn.2016-06.io.spdk:cnode1"
	testService = "nvmeof.rbd"
)

type mockTopo struct {
	gateways map[string][]collector.Endpoint
	lbgMaps  map[string]map[int]string
}

func (m *mockTopo) Gateways(service string) ([]collector.Endpoint, error) {
	endpoints, ok := m.gateways[service]
	if !ok {
		return nil, fmt.Errorf("service %s not found", service)
	}
	return endpoints, nil
}

func (m *mockTopo) LBGMap(service string) (map[int]string, error) {
	return m.lbgMaps[service], nil
}

type mockConnector struct {
	calls   int
	clients map[string]gateway.API
	err     error
}

func (m *mockConnector) connect(group, addr string) (gateway.API, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	client, ok := m.clients[addr]
	if !ok {
		return nil, fmt.Errorf("no gateway at %q", addr)
	}
	return client, nil
}

// stepClock returns a clock whose first reading (taken at construction) is
// t0 and which advances by step on every later reading, pinning the
// snapshot interval.
func stepClock(t0 time.Time, step time.Duration) func() time.Time {
	current := t0
	first := true
	return func() time.Time {
		if first {
			first = false
			return current
		}
		current = current.Add(step)
		return current
	}
}

func newTestGateway() *gateway.MockAPI {
	gw := gateway.NewMockAPI("10.0.0.1:5500", "node1", testService)
	gw.InfoResponse = &gateway.Info{DaemonName: "node1", LoadBalancingGroup: 1}
	gw.SubsystemsResponse = &gateway.SubsystemList{
		Subsystems: []gateway.Subsystem{
			{NQN: testNQN, NamespaceCount: 3, MaxNamespaces: 256},
		},
	}
	gw.NamespacesResponse = &gateway.NamespaceList{
		Namespaces: []gateway.Namespace{
			{NSID: 1, BdevName: "bdev0", RBDPoolName: "rbd", RBDImageName: "disk1", LoadBalancingGroup: 1},
			{NSID: 2, BdevName: "bdev1", RBDPoolName: "rbd", RBDImageName: "disk2", LoadBalancingGroup: 1, RWIOsPerSecond: 500},
			{NSID: 3, BdevName: "bdev2", RBDPoolName: "rbd", RBDImageName: "disk3", LoadBalancingGroup: 2},
		},
	}
	gw.IOStatsResponse = &gateway.NamespaceIOStats{
		TickRate: 1000,
		Namespaces: []gateway.NamespaceStats{
			{BdevName: "bdev0", NumReadOps: 150, BytesRead: 153600, ReadLatencyTicks: 3000},
			{BdevName: "bdev1", NumWriteOps: 30, BytesWritten: 245760, WriteLatencyTicks: 1500},
		},
	}
	gw.ThreadsResponse = &gateway.ThreadStats{
		TickRate: 1000,
		Threads: []gateway.Thread{
			{Name: "nvmf_tgt_poll_group_0", Busy: 300, Idle: 1200},
		},
	}
	return gw
}

func newTestCollector(t *testing.T, conn *mockConnector, topo *mockTopo) *collector.Collector {
	t.Helper()
	return collector.New(testr.New(t), conn.connect, topo,
		collector.WithClock(stepClock(time.Unix(1700000000, 0), 1500*time.Millisecond)))
}

func TestInitialiseConnectorFailure(t *testing.T) {
	conn := &mockConnector{err: errors.New("dial refused")}
	c := newTestCollector(t, conn, &mockTopo{})

	c.Initialise(context.Background(), collector.Params{ServerAddr: "10.9.9.9:5500"})

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeConnRefused, c.Health().Code)
	assert.Equal(t, "RPC endpoint unavailable at 10.9.9.9:5500", c.Health().Msg)
}

func TestInitialiseUnreachableGateway(t *testing.T) {
	gw := newTestGateway()
	gw.InfoFunc = func(ctx context.Context) (*gateway.Info, error) {
		return nil, errors.New("connection refused")
	}
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})

	c.Initialise(context.Background(), collector.Params{ServerAddr: "10.0.0.1:5500"})

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeConnRefused, c.Health().Code)
	assert.Equal(t,
		"Unable to connect to 10.0.0.1:5500, pass an available gateway as --server-addr",
		c.Health().Msg)
}

func TestInitialiseReusesCachedClient(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	params := collector.Params{ServerAddr: "10.0.0.1:5500"}

	c.Initialise(context.Background(), params)
	require.True(t, c.Ready())
	c.Initialise(context.Background(), params)
	require.True(t, c.Ready())

	assert.Equal(t, 1, conn.calls)
}

func TestInitialiseComputesDelay(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})

	c.Initialise(context.Background(), collector.Params{ServerAddr: "10.0.0.1:5500"})

	require.True(t, c.Ready())
	assert.InDelta(t, 1.5, c.Delay(), 1e-9)
}

func TestCollectIODataSingleGateway(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	params := collector.Params{ServerAddr: "10.0.0.1:5500", SubsystemNQN: testNQN}
	ctx := context.Background()

	c.Initialise(ctx, params)
	require.True(t, c.Ready())
	c.CollectIOData(ctx)
	require.True(t, c.Ready())

	rows := c.SortedNamespaces(0, false)
	// NSID 3 belongs to LBG 2 which this gateway does not own.
	require.Len(t, rows, 2)

	read := rows[0]
	assert.Equal(t, 1, read.NSID)
	assert.Equal(t, "rbd/disk1", read.Image)
	assert.Equal(t, int64(100), read.ReadOps)
	assert.Equal(t, int64(100), read.TotalOps)
	assert.InDelta(t, 0.09765625, read.ReadMB, 1e-9) // 102400 B/s in MiB
	assert.Equal(t, 1.0, read.ReadReqSz)             // 1.00 KiB
	assert.InDelta(t, 20.0, read.ReadAwait, 1e-9)    // 2s of ticks over 150 ops at delay 1.5
	assert.Equal(t, "1", read.LBGroup)
	assert.Equal(t, "No", read.QoS)

	write := rows[1]
	assert.Equal(t, 2, write.NSID)
	assert.Equal(t, int64(20), write.WriteOps)
	assert.Equal(t, 8.0, write.WriteReqSz)
	assert.Equal(t, "Yes", write.QoS)
}

func TestCollectIODataGatewayOutsideConfig(t *testing.T) {
	// An explicit --server-addr outside the fleet config yields a handle
	// with no config-derived daemon name; the identity the gateway reports
	// about itself keeps its counters reachable.
	gw := newTestGateway()
	gw.Daemon = ""
	gw.InfoResponse = &gateway.Info{DaemonName: "node9", LoadBalancingGroup: 1}
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{ServerAddr: "10.0.0.1:5500", SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)
	require.True(t, c.Ready())

	rows := c.SortedNamespaces(0, false)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(100), rows[0].ReadOps)
	assert.Equal(t, int64(20), rows[1].WriteOps)
}

func TestCollectIODataNoSubsystems(t *testing.T) {
	gw := newTestGateway()
	gw.SubsystemsResponse = &gateway.SubsystemList{}
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{ServerAddr: "10.0.0.1:5500", SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeNotFound, c.Health().Code)
	assert.Equal(t, "No subsystems found", c.Health().Msg)
}

func TestCollectIODataCatalogUnavailable(t *testing.T) {
	gw := newTestGateway()
	gw.SubsystemsFunc = func(ctx context.Context) (*gateway.SubsystemList, error) {
		return nil, errors.New("transport closing")
	}
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{ServerAddr: "10.0.0.1:5500", SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeConnRefused, c.Health().Code)
	assert.Equal(t, "Unable to retrieve a list of subsystems", c.Health().Msg)
}

func TestCollectIODataUnknownNQN(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{
		ServerAddr:   "10.0.0.1:5500",
		SubsystemNQN: "nqn.2016-06.io.spdk:missing",
	})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeNotFound, c.Health().Code)
	assert.Equal(t, "Subsystem NQN provided not found", c.Health().Msg)
}

func TestCollectIODataEmptyLBGMapping(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"": gw}}
	topo := &mockTopo{
		gateways: map[string][]collector.Endpoint{
			testService: {{Daemon: "node1", Addr: "10.0.0.1:5500"}},
		},
		lbgMaps: map[string]map[int]string{},
	}
	c := newTestCollector(t, conn, topo)
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeNotFound, c.Health().Code)
	assert.Equal(t,
		"Failed to retrieve load balancing group mapping for service nvmeof.rbd",
		c.Health().Msg)
}

func TestCollectIODataFleetOwnership(t *testing.T) {
	gw1 := newTestGateway()
	gw2 := gateway.NewMockAPI("10.0.0.2:5500", "node2", testService)
	gw2.IOStatsResponse = &gateway.NamespaceIOStats{
		TickRate: 1000,
		Namespaces: []gateway.NamespaceStats{
			{BdevName: "bdev2", NumReadOps: 75, BytesRead: 76800},
		},
	}
	conn := &mockConnector{clients: map[string]gateway.API{
		"":              gw1,
		"10.0.0.1:5500": gw1,
		"10.0.0.2:5500": gw2,
	}}
	topo := &mockTopo{
		gateways: map[string][]collector.Endpoint{
			testService: {
				{Daemon: "node1", Addr: "10.0.0.1:5500"},
				{Daemon: "node2", Addr: "10.0.0.2:5500"},
			},
		},
		lbgMaps: map[string]map[int]string{
			testService: {1: "node1", 2: "node2"},
		},
	}
	c := newTestCollector(t, conn, topo)
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)
	require.True(t, c.Ready())

	rows := c.SortedNamespaces(0, false)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(50), rows[2].ReadOps) // bdev2 served by node2
}

func TestSortedNamespacesSkipsUnmappedLBG(t *testing.T) {
	gw := newTestGateway()
	gw.IOStatsResponse.Namespaces = append(gw.IOStatsResponse.Namespaces,
		gateway.NamespaceStats{BdevName: "bdev2", NumReadOps: 10, BytesRead: 10240})
	conn := &mockConnector{clients: map[string]gateway.API{"": gw, "10.0.0.1:5500": gw}}
	topo := &mockTopo{
		gateways: map[string][]collector.Endpoint{
			testService: {{Daemon: "node1", Addr: "10.0.0.1:5500"}},
		},
		lbgMaps: map[string]map[int]string{
			// LBG 2 has no owner this pass.
			testService: {1: "node1"},
		},
	}
	c := newTestCollector(t, conn, topo)
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)
	require.True(t, c.Ready())

	// The unmapped namespace is skipped, not escalated to a failure.
	rows := c.SortedNamespaces(0, false)
	assert.Len(t, rows, 2)
	assert.True(t, c.Ready())
}

func TestSortedNamespacesOrdering(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{ServerAddr: "10.0.0.1:5500", SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)
	require.True(t, c.Ready())

	// Column 3 is r/s: ascending puts the write-only namespace first.
	byReads := c.SortedNamespaces(3, false)
	require.Len(t, byReads, 2)
	assert.Equal(t, 2, byReads[0].NSID)
	assert.Equal(t, 1, byReads[1].NSID)

	desc := c.SortedNamespaces(3, true)
	assert.Equal(t, 1, desc[0].NSID)

	// Both namespaces share LBGrp "1": the tie preserves catalog order.
	byLBG := c.SortedNamespaces(11, false)
	assert.Equal(t, 1, byLBG[0].NSID)
	assert.Equal(t, 2, byLBG[1].NSID)
}

func TestCollectCPUDataServiceNotFound(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"": gw}}
	c := newTestCollector(t, conn, &mockTopo{gateways: map[string][]collector.Endpoint{}})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{Service: "nvmeof.ghost"})
	require.True(t, c.Ready())
	c.CollectCPUData(ctx)

	require.False(t, c.Ready())
	assert.Equal(t, collector.CodeNotFound, c.Health().Code)
	assert.Equal(t, "Service nvmeof.ghost not found", c.Health().Msg)
}

func TestCollectCPUDataShortCircuitsOnFailure(t *testing.T) {
	gw1 := newTestGateway()
	gw1.ThreadsFunc = func(ctx context.Context) (*gateway.ThreadStats, error) {
		return nil, errors.New("deadline exceeded")
	}
	gw2 := gateway.NewMockAPI("10.0.0.2:5500", "node2", testService)
	conn := &mockConnector{clients: map[string]gateway.API{
		"":              gw1,
		"10.0.0.1:5500": gw1,
		"10.0.0.2:5500": gw2,
	}}
	topo := &mockTopo{
		gateways: map[string][]collector.Endpoint{
			testService: {
				{Daemon: "node1", Addr: "10.0.0.1:5500"},
				{Daemon: "node2", Addr: "10.0.0.2:5500"},
			},
		},
	}
	c := newTestCollector(t, conn, topo)
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{Service: testService})
	require.True(t, c.Ready())
	c.CollectCPUData(ctx)

	require.False(t, c.Ready())
	assert.Equal(t, "RPC endpoint unavailable at 10.0.0.1:5500", c.Health().Msg)
	// The failure must not be masked by polling the next member.
	assert.Equal(t, 0, gw2.CallCount())
}

func TestReactorData(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{ServerAddr: "10.0.0.1:5500"})
	require.True(t, c.Ready())
	c.CollectCPUData(ctx)
	require.True(t, c.Ready())

	rows := c.ReactorData(1, false)
	require.Len(t, rows, 1)
	assert.Equal(t, "10.0.0.1:5500", rows[0].Gateway)
	assert.Equal(t, "nvmf_tgt_poll_group_0", rows[0].Thread)
	assert.InDelta(t, 0.2, rows[0].BusyRate, 1e-9) // 0.3s over 1.5s
	assert.InDelta(t, 0.8, rows[0].IdleRate, 1e-9)
}

func TestReactorDataEmpty(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})

	c.Initialise(context.Background(), collector.Params{ServerAddr: "10.0.0.1:5500"})
	require.True(t, c.Ready())

	// No CPU collection has run: the view is empty, never an error.
	assert.Empty(t, c.ReactorData(0, false))
	assert.True(t, c.Ready())
}

func TestSummaries(t *testing.T) {
	gw := newTestGateway()
	conn := &mockConnector{clients: map[string]gateway.API{"10.0.0.1:5500": gw}}
	c := newTestCollector(t, conn, &mockTopo{})
	ctx := context.Background()

	c.Initialise(ctx, collector.Params{ServerAddr: "10.0.0.1:5500", SubsystemNQN: testNQN})
	require.True(t, c.Ready())
	c.CollectIOData(ctx)
	require.True(t, c.Ready())

	assert.Equal(t, []string{testNQN, "3 / 256"}, c.SubsystemSummary())
	assert.Equal(t, []string{"10.0.0.1:5500", "1", "1", "3"}, c.OverallSummary())
}
