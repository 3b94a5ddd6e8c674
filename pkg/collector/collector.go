// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package collector implements the stats-collection and rate-derivation
// engine behind nvmeof-top. A Collector polls one gateway or a whole fleet
// for cumulative performance counters, converts them into per-interval
// rates, resolves namespace ownership through the load-balancing-group
// indirection, and serves sorted row views for rendering.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/nvmeof-top/pkg/gateway"
)

// Endpoint identifies one member gateway of a fleet service.
type Endpoint struct {
	Daemon string
	Addr   string
}

// Topology supplies the fleet-level lookups the collector cannot get from a
// single gateway: service membership and the load-balancing-group ownership
// map. Both may legitimately come back empty; the collector decides what
// that means per operation.
type Topology interface {
	// Gateways lists the member gateways of a named service.
	Gateways(service string) ([]Endpoint, error)

	// LBGMap returns load-balancing-group id -> owning daemon name for a
	// named service.
	LBGMap(service string) (map[int]string, error)
}

// Connector creates a gateway handle for a (group, address) pair. An empty
// address asks the connector to pick a reachable default for the group.
type Connector func(group, addr string) (gateway.API, error)

// Params carries the caller-supplied identifiers for one collection pass.
type Params struct {
	// ServerAddr binds the collector to a single explicit gateway. When
	// set, fleet lookups are skipped and only namespaces owned by that
	// gateway's load-balancing group are reported.
	ServerAddr string

	// Group is the logical gateway group, part of the client cache key.
	Group string

	// Service is the fleet service to poll in CPU mode.
	Service string

	// SubsystemNQN selects the subsystem for I/O mode.
	SubsystemNQN string
}

type clientKey struct {
	group string
	addr  string
}

// Collector holds the per-gateway client handles, the subsystem/namespace
// catalog, the ownership map and the accumulated per-namespace and
// per-thread counter state. State survives across polls; only Initialise
// resets the Health and advances the snapshot clock.
type Collector struct {
	logger  logr.Logger
	connect Connector
	topo    Topology

	// now is the snapshot clock, swappable in tests.
	now func() time.Time

	mu      sync.Mutex
	clients map[clientKey]gateway.API

	params     Params
	client     gateway.API
	serverAddr string
	gwInfo     *gateway.Info

	subsystems   *gateway.SubsystemList
	namespaces   map[string][]gateway.Namespace
	lbgToGateway map[int]string

	iostats      map[string]map[string]*PerformanceStats
	reactorStats map[string]map[string]*ReactorStats

	timestamp time.Time
	delay     float64
	health    Health
}

// Option adjusts Collector construction.
type Option func(*Collector)

// WithClock replaces the snapshot clock, used by tests to pin the interval.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a Collector with no accumulated state. The first pass after
// construction yields rates computed against zero-valued counters.
func New(logger logr.Logger, connect Connector, topo Topology, opts ...Option) *Collector {
	c := &Collector{
		logger:       logger.WithName("collector"),
		connect:      connect,
		topo:         topo,
		now:          time.Now,
		clients:      make(map[clientKey]gateway.API),
		namespaces:   make(map[string][]gateway.Namespace),
		lbgToGateway: make(map[int]string),
		iostats:      make(map[string]map[string]*PerformanceStats),
		reactorStats: make(map[string]map[string]*ReactorStats),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timestamp = c.now()
	return c
}

// Ready reports whether the most recent operation left the collector
// healthy. Callers must check it after Initialise and after every collect
// call before consuming derived data.
func (c *Collector) Ready() bool {
	return c.health.OK()
}

// Health returns the status of the current or most recent operation.
func (c *Collector) Health() Health {
	return c.health
}

// Delay returns the elapsed seconds between the previous snapshot and this
// one. Every rate in one pass uses this single value.
func (c *Collector) Delay() float64 {
	return c.delay
}

// Timestamp returns the time of the current snapshot.
func (c *Collector) Timestamp() time.Time {
	return c.timestamp
}

// ServerAddr returns the address of the gateway this pass is bound to.
func (c *Collector) ServerAddr() string {
	return c.serverAddr
}

// NQNList returns the NQNs of every subsystem in the cached catalog.
func (c *Collector) NQNList() []string {
	if c.subsystems == nil {
		return nil
	}
	nqns := make([]string, 0, len(c.subsystems.Subsystems))
	for _, subsys := range c.subsystems.Subsystems {
		nqns = append(nqns, subsys.NQN)
	}
	return nqns
}

// TotalSubsystems returns the number of subsystems in the cached catalog.
func (c *Collector) TotalSubsystems() int {
	return len(c.NQNList())
}

// TotalNamespacesDefined returns the namespace count of the active
// subsystem.
func (c *Collector) TotalNamespacesDefined() int {
	return len(c.namespaces[c.params.SubsystemNQN])
}

// TotalNamespacesOverall sums the namespace counts across every subsystem.
func (c *Collector) TotalNamespacesOverall() int {
	if c.subsystems == nil {
		return 0
	}
	total := 0
	for _, subsys := range c.subsystems.Subsystems {
		total += subsys.NamespaceCount
	}
	return total
}

// MaxNamespaces returns the namespace capacity of the active subsystem, or
// 0 when the active NQN is missing from the catalog.
func (c *Collector) MaxNamespaces() int {
	if c.subsystems != nil {
		for _, subsys := range c.subsystems.Subsystems {
			if subsys.NQN == c.params.SubsystemNQN {
				return subsys.MaxNamespaces
			}
		}
	}
	c.logger.Error(nil, "request for max namespaces could not find a match against the NQN, returning 0",
		"nqn", c.params.SubsystemNQN)
	return 0
}

// LoadBalancingGroup returns the load-balancing group served by the bound
// gateway.
func (c *Collector) LoadBalancingGroup() int {
	if c.gwInfo == nil {
		return 0
	}
	return c.gwInfo.LoadBalancingGroup
}

// singleGateway reports whether the caller bound the pass to one explicit
// gateway rather than a fleet service.
func (c *Collector) singleGateway() bool {
	return c.params.ServerAddr != ""
}

// getClient returns the cached handle for a (group, address) pair, dialing
// and caching a new one if absent.
func (c *Collector) getClient(group, addr string) (gateway.API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := clientKey{group: group, addr: addr}
	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := c.connect(group, addr)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}

// Initialise starts a new collection pass: it resets Health, binds a
// gateway handle, computes the interval since the previous pass and fetches
// the bound gateway's identity. On connectivity failure the collector is
// left unhealthy and collection must not proceed.
func (c *Collector) Initialise(ctx context.Context, p Params) {
	c.health = Health{}
	c.params = p

	client, err := c.getClient(p.Group, p.ServerAddr)
	if err != nil {
		c.health.set(CodeConnRefused, "RPC endpoint unavailable at %s", p.ServerAddr)
		c.logger.Error(err, "failed to acquire gateway client", "addr", p.ServerAddr, "group", p.Group)
		return
	}
	c.client = client
	c.serverAddr = client.Addr()

	now := c.now()
	c.delay = now.Sub(c.timestamp).Seconds()
	c.timestamp = now

	c.gwInfo = c.fetchGatewayInfo(ctx, client)
	if !c.Ready() {
		c.logger.Error(nil, "gateway info call failed",
			"addr", c.serverAddr, "code", c.health.Code, "msg", c.health.Msg)
		c.health.Msg = fmt.Sprintf(
			"Unable to connect to %s, pass an available gateway as --server-addr", c.serverAddr)
		return
	}

	c.logger.V(1).Info("connected to gateway", "addr", c.serverAddr)
}

// CollectCPUData fetches thread statistics from every member of the
// requested fleet service, or from the single bound gateway when no service
// was given. The loop stops at the first fetch that leaves the collector
// unhealthy.
func (c *Collector) CollectCPUData(ctx context.Context) {
	if c.params.Service != "" {
		members, err := c.topo.Gateways(c.params.Service)
		if err != nil || len(members) == 0 {
			c.health.set(CodeNotFound, "Service %s not found", c.params.Service)
			return
		}
		for _, member := range members {
			client, err := c.getClient(c.params.Group, member.Addr)
			if err != nil {
				c.health.set(CodeConnRefused, "RPC endpoint unavailable at %s", member.Addr)
				c.logger.Error(err, "failed to acquire gateway client", "addr", member.Addr)
				return
			}
			c.fetchThreadStats(ctx, client)
			if !c.Ready() {
				return
			}
		}
	} else {
		c.fetchThreadStats(ctx, c.client)
	}
	c.logger.V(1).Info("collect cpu data completed")
}

// CollectIOData resolves the subsystem's namespace catalog and fetches
// per-namespace I/O counters from the owning gateways. In fleet mode the
// load-balancing-group ownership map is rebuilt first; an empty map is a
// hard failure since ownership cannot otherwise be determined.
func (c *Collector) CollectIOData(ctx context.Context) {
	c.ensureCatalog(ctx)
	if !c.Ready() {
		return
	}

	if !c.singleGateway() {
		service := c.client.ServiceName()
		members, err := c.topo.Gateways(service)
		if err != nil || len(members) == 0 {
			c.health.set(CodeNotFound, "Service %s not found", service)
			return
		}

		lbgMap, err := c.topo.LBGMap(service)
		if err != nil || len(lbgMap) == 0 {
			c.health.set(CodeNotFound,
				"Failed to retrieve load balancing group mapping for service %s", service)
			return
		}
		c.lbgToGateway = lbgMap

		for _, member := range members {
			client, err := c.getClient(c.params.Group, member.Addr)
			if err != nil {
				c.health.set(CodeConnRefused, "RPC endpoint unavailable at %s", member.Addr)
				c.logger.Error(err, "failed to acquire gateway client", "addr", member.Addr)
				return
			}
			c.fetchNamespaceIOStats(ctx, client)
			if !c.Ready() {
				return
			}
		}
	} else {
		c.fetchNamespaceIOStats(ctx, c.client)
	}
	c.logger.V(1).Info("collect io data completed")
}

// ensureCatalog fetches and caches the subsystem list and the active
// subsystem's namespace list. The cached catalog is reused until the
// collector is rebuilt.
func (c *Collector) ensureCatalog(ctx context.Context) {
	nqn := c.params.SubsystemNQN
	if c.subsystems != nil {
		if _, ok := c.namespaces[nqn]; ok {
			return
		}
	}

	subsystems := c.fetchSubsystems(ctx)
	if subsystems == nil || subsystems.Status > 0 {
		c.logger.Error(nil, "failed to retrieve subsystems list")
		c.health.set(CodeConnRefused, "Unable to retrieve a list of subsystems")
		return
	}
	c.subsystems = subsystems

	if c.TotalSubsystems() == 0 {
		c.health.set(CodeNotFound, "No subsystems found")
		return
	}

	if nqn != "" && !contains(c.NQNList(), nqn) {
		c.logger.Error(nil, "nqn provided is not present on the gateway", "nqn", nqn)
		c.health.set(CodeNotFound, "Subsystem NQN provided not found")
		return
	}

	namespaceInfo := c.fetchNamespaces(ctx, nqn)
	if namespaceInfo == nil {
		return
	}
	c.namespaces[nqn] = namespaceInfo.Namespaces
	c.logger.V(1).Info("cached namespace catalog",
		"nqn", nqn, "namespaces", c.TotalNamespacesDefined())
}

// SortedNamespaces computes the per-namespace rates for the active
// subsystem and returns the rows sorted by the given column. Namespaces
// with no resolvable owner or no recorded counters are skipped with a
// warning; a momentary gap in one row does not invalidate the rest of the
// view.
func (c *Collector) SortedNamespaces(sortCol int, descending bool) []NamespaceRow {
	rows := []NamespaceRow{}
	for _, ns := range c.namespaces[c.params.SubsystemNQN] {
		var daemon string
		if c.singleGateway() {
			// Only namespaces owned by this gateway's LBG are visible.
			if ns.LoadBalancingGroup != c.LoadBalancingGroup() {
				continue
			}
			daemon = c.daemonFor(c.client)
		} else {
			daemon = c.lbgToGateway[ns.LoadBalancingGroup]
		}
		if daemon == "" {
			c.logger.Info("no gateway found for load balancing group, skipping namespace",
				"lbg", ns.LoadBalancingGroup, "nsid", ns.NSID)
			continue
		}

		perf := c.iostats[daemon][ns.BdevName]
		if perf == nil {
			c.logger.Info("no iostats for bdev, skipping namespace",
				"bdev", ns.BdevName, "daemon", daemon, "nsid", ns.NSID)
			continue
		}
		perf.Calculate(c.delay)

		rows = append(rows, NamespaceRow{
			NSID:       ns.NSID,
			Image:      fmt.Sprintf("%s/%s", ns.RBDPoolName, ns.RBDImageName),
			TotalOps:   int64(perf.TotalOpsRate),
			ReadOps:    int64(perf.ReadOpsRate),
			ReadMB:     bytesToMB(perf.ReadBytesRate),
			ReadAwait:  perf.ReadAwait,
			ReadReqSz:  perf.ReadReqSize,
			WriteOps:   int64(perf.WriteOpsRate),
			WriteMB:    bytesToMB(perf.WriteBytesRate),
			WriteAwait: perf.WriteAwait,
			WriteReqSz: perf.WriteReqSize,
			LBGroup:    lbGroupLabel(ns.LoadBalancingGroup),
			QoS:        qosLabel(ns),
		})
	}

	sortNamespaceRows(rows, sortCol, descending)
	return rows
}

// ReactorData computes the busy/idle rates for every recorded polling
// thread and returns the rows sorted by the given column.
func (c *Collector) ReactorData(sortCol int, descending bool) []ReactorRow {
	rows := []ReactorRow{}
	for _, addr := range sortedKeys(c.reactorStats) {
		threads := c.reactorStats[addr]
		for _, name := range sortedKeys(threads) {
			stats := threads[name]
			stats.Calculate(c.delay)
			rows = append(rows, ReactorRow{
				Gateway:  addr,
				Thread:   stats.Thread,
				BusyRate: stats.BusyRate,
				IdleRate: stats.IdleRate,
			})
		}
	}

	sortReactorRows(rows, sortCol, descending)
	return rows
}

// SubsystemSummary returns the active subsystem's NQN and its
// defined/capacity namespace counts.
func (c *Collector) SubsystemSummary() []string {
	return []string{
		c.params.SubsystemNQN,
		fmt.Sprintf("%d / %d", c.TotalNamespacesDefined(), c.MaxNamespaces()),
	}
}

// OverallSummary returns the bound gateway, its load-balancing group and
// the fleet-wide subsystem and namespace totals.
func (c *Collector) OverallSummary() []string {
	return []string{
		c.serverAddr,
		fmt.Sprintf("%d", c.LoadBalancingGroup()),
		fmt.Sprintf("%d", c.TotalSubsystems()),
		fmt.Sprintf("%d", c.TotalNamespacesOverall()),
	}
}

// Close releases every cached gateway handle.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, client := range c.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.clients, key)
	}
	return firstErr
}

// fetch helpers. Every failed remote call maps onto a connection-refused
// Health naming the endpoint; the next scheduled pass is the retry.

func (c *Collector) fetchGatewayInfo(ctx context.Context, client gateway.API) *gateway.Info {
	info, err := client.Info(ctx)
	if err != nil {
		c.rpcFailed(client, "get_gateway_info", err)
		return nil
	}
	return info
}

func (c *Collector) fetchSubsystems(ctx context.Context) *gateway.SubsystemList {
	subsystems, err := c.client.Subsystems(ctx)
	if err != nil {
		c.rpcFailed(c.client, "list_subsystems", err)
		return nil
	}
	return subsystems
}

func (c *Collector) fetchNamespaces(ctx context.Context, nqn string) *gateway.NamespaceList {
	namespaces, err := c.client.Namespaces(ctx, nqn)
	if err != nil {
		c.rpcFailed(c.client, "list_namespaces", err)
		return nil
	}
	return namespaces
}

// daemonFor resolves the daemon identity a gateway's counters are recorded
// under. The handle's config-derived name wins; a gateway bound by an
// address outside the fleet config falls back to the identity it reported at
// Initialise, then to its address, so its counters stay reachable.
func (c *Collector) daemonFor(client gateway.API) string {
	if name := client.DaemonName(); name != "" {
		return name
	}
	if client == c.client && c.gwInfo != nil && c.gwInfo.DaemonName != "" {
		return c.gwInfo.DaemonName
	}
	return client.Addr()
}

func (c *Collector) fetchNamespaceIOStats(ctx context.Context, client gateway.API) {
	daemon := c.daemonFor(client)
	c.logger.V(1).Info("fetching namespace iostats", "daemon", daemon)

	stats, err := client.NamespaceIOStats(ctx)
	if err != nil {
		c.rpcFailed(client, "list_namespaces_io_stats", err)
		return
	}

	if _, ok := c.iostats[daemon]; !ok {
		c.iostats[daemon] = make(map[string]*PerformanceStats)
	}
	for _, ns := range stats.Namespaces {
		perf, ok := c.iostats[daemon][ns.BdevName]
		if !ok {
			perf = NewPerformanceStats(ns.BdevName)
			c.iostats[daemon][ns.BdevName] = perf
		}
		c.updateCounter(&perf.ReadOps, float64(ns.NumReadOps), "read_ops", ns.BdevName)
		c.updateCounter(&perf.ReadBytes, float64(ns.BytesRead), "read_bytes", ns.BdevName)
		c.updateCounter(&perf.ReadSecs, float64(ns.ReadLatencyTicks)/stats.TickRate, "read_secs", ns.BdevName)
		c.updateCounter(&perf.WriteOps, float64(ns.NumWriteOps), "write_ops", ns.BdevName)
		c.updateCounter(&perf.WriteBytes, float64(ns.BytesWritten), "write_bytes", ns.BdevName)
		c.updateCounter(&perf.WriteSecs, float64(ns.WriteLatencyTicks)/stats.TickRate, "write_secs", ns.BdevName)
	}
}

func (c *Collector) fetchThreadStats(ctx context.Context, client gateway.API) {
	addr := client.Addr()
	c.logger.V(1).Info("fetching thread stats", "addr", addr)

	stats, err := client.ThreadStats(ctx)
	if err != nil {
		c.rpcFailed(client, "get_thread_stats", err)
		return
	}

	if _, ok := c.reactorStats[addr]; !ok {
		c.reactorStats[addr] = make(map[string]*ReactorStats)
	}
	for _, thread := range stats.Threads {
		reactor, ok := c.reactorStats[addr][thread.Name]
		if !ok {
			reactor = NewReactorStats(thread.Name)
			c.reactorStats[addr][thread.Name] = reactor
		}
		c.updateCounter(&reactor.BusySecs, float64(thread.Busy)/stats.TickRate, "busy", thread.Name)
		c.updateCounter(&reactor.IdleSecs, float64(thread.Idle)/stats.TickRate, "idle", thread.Name)
	}
}

// updateCounter feeds one absolute reading into a counter. A reading below
// the previous one means the remote counter was reset; the rate goes
// negative for one interval and is logged, not clamped.
func (c *Collector) updateCounter(ctr *Counter, value float64, what, key string) {
	if value < ctr.Current() {
		c.logger.V(1).Info("counter went backwards, remote reset suspected",
			"counter", what, "key", key, "previous", ctr.Current(), "current", value)
	}
	ctr.Update(value)
}

func (c *Collector) rpcFailed(client gateway.API, method string, err error) {
	c.health.set(CodeConnRefused, "RPC endpoint unavailable at %s", client.Addr())
	c.logger.Error(err, "gateway rpc failed", "method", method, "addr", client.Addr())
}

func lbGroupLabel(grp int) string {
	if grp == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d", grp)
}

func qosLabel(ns gateway.Namespace) string {
	if ns.QoSEnabled() {
		return "Yes"
	}
	return "No"
}

func bytesToMB(numBytes float64) float64 {
	return numBytes / 1024 / 1024
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
