// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package gateway

import (
	"context"
	"sync"
)

// MockAPI is a test implementation of the API interface. It records every
// call and serves canned responses, or delegates to the matching *Func stub
// when one is set.
type MockAPI struct {
	mu    sync.Mutex
	Calls []string

	GatewayAddr string
	Daemon      string
	Service     string

	InfoResponse       *Info
	SubsystemsResponse *SubsystemList
	NamespacesResponse *NamespaceList
	IOStatsResponse    *NamespaceIOStats
	ThreadsResponse    *ThreadStats

	InfoFunc       func(ctx context.Context) (*Info, error)
	SubsystemsFunc func(ctx context.Context) (*SubsystemList, error)
	NamespacesFunc func(ctx context.Context, nqn string) (*NamespaceList, error)
	IOStatsFunc    func(ctx context.Context) (*NamespaceIOStats, error)
	ThreadsFunc    func(ctx context.Context) (*ThreadStats, error)
}

// NewMockAPI creates a mock handle for the given endpoint identity.
func NewMockAPI(addr, daemon, service string) *MockAPI {
	return &MockAPI{
		GatewayAddr: addr,
		Daemon:      daemon,
		Service:     service,
	}
}

func (m *MockAPI) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, op)
}

// CallCount returns the number of recorded remote operations.
func (m *MockAPI) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockAPI) Addr() string        { return m.GatewayAddr }
func (m *MockAPI) DaemonName() string  { return m.Daemon }
func (m *MockAPI) ServiceName() string { return m.Service }

func (m *MockAPI) Info(ctx context.Context) (*Info, error) {
	m.record("get_gateway_info")
	if m.InfoFunc != nil {
		return m.InfoFunc(ctx)
	}
	return m.InfoResponse, nil
}

func (m *MockAPI) Subsystems(ctx context.Context) (*SubsystemList, error) {
	m.record("list_subsystems")
	if m.SubsystemsFunc != nil {
		return m.SubsystemsFunc(ctx)
	}
	return m.SubsystemsResponse, nil
}

func (m *MockAPI) Namespaces(ctx context.Context, nqn string) (*NamespaceList, error) {
	m.record("list_namespaces")
	if m.NamespacesFunc != nil {
		return m.NamespacesFunc(ctx, nqn)
	}
	return m.NamespacesResponse, nil
}

func (m *MockAPI) NamespaceIOStats(ctx context.Context) (*NamespaceIOStats, error) {
	m.record("list_namespaces_io_stats")
	if m.IOStatsFunc != nil {
		return m.IOStatsFunc(ctx)
	}
	return m.IOStatsResponse, nil
}

func (m *MockAPI) ThreadStats(ctx context.Context) (*ThreadStats, error) {
	m.record("get_thread_stats")
	if m.ThreadsFunc != nil {
		return m.ThreadsFunc(ctx)
	}
	return m.ThreadsResponse, nil
}

func (m *MockAPI) Close() error { return nil }
