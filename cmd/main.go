// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/nvmeof-top/internal/top"
	"github.com/antimetal/nvmeof-top/internal/topology"
	"github.com/antimetal/nvmeof-top/internal/ui"
	"github.com/antimetal/nvmeof-top/pkg/collector"
	"github.com/antimetal/nvmeof-top/pkg/gateway"
	"github.com/antimetal/nvmeof-top/pkg/gateway/grpcgw"
)

const maxInterval = 3600 * time.Second

var (
	mode          string
	serverAddr    string
	group         string
	service       string
	subsystemNQN  string
	sortBy        string
	descending    bool
	summary       bool
	noHeader      bool
	withTimestamp bool
	watch         bool
	interval      time.Duration
	secure        bool
	verbose       bool
)

func init() {
	flag.StringVar(&mode, "mode", "io", "View mode: io (namespace I/O) or cpu (gateway reactors)")
	flag.StringVar(&serverAddr, "server-addr", "", "Poll a single gateway at this address instead of a fleet service")
	flag.StringVar(&group, "group", "", "Gateway group name")
	flag.StringVar(&service, "service", "", "Fleet service name to poll in cpu mode")
	flag.StringVar(&subsystemNQN, "subsystem", "", "Subsystem NQN to report on (required in io mode)")
	flag.StringVar(&sortBy, "sort-by", "", "Column name to sort by (default: NSID in io mode, Thread Name in cpu mode)")
	flag.BoolVar(&descending, "descending", false, "Sort descending")
	flag.BoolVar(&summary, "summary", false, "Include the summary block above the table")
	flag.BoolVar(&noHeader, "no-header", false, "Suppress the table header")
	flag.BoolVar(&withTimestamp, "with-timestamp", false, "Include a timestamp line above the table")
	flag.BoolVar(&watch, "watch", false, "Refresh continuously in a live view instead of printing once")
	flag.DurationVar(&interval, "interval", time.Second, "Refresh interval in watch mode (max 3600s)")
	flag.BoolVar(&secure, "secure", false, "Use TLS for gateway connections")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
}

func main() {
	flag.Parse()

	var logger logr.Logger
	if verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		logger = logr.Discard()
	}

	if interval <= 0 || interval > maxInterval {
		fmt.Fprintf(os.Stderr, "Error: interval must be between 1s and %s\n", maxInterval)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topo, err := topology.Load(topology.ConfigPath(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading gateway config: %v\n", err)
		os.Exit(1)
	}
	if watch {
		// Long-running sessions track fleet changes without a restart.
		if err := topo.Watch(); err != nil {
			fmt.Fprintf(os.Stderr, "Error watching gateway config: %v\n", err)
			os.Exit(1)
		}
	}
	defer func() {
		if err := topo.Close(); err != nil {
			logger.Error(err, "failed to close topology store")
		}
	}()

	if group == "" && service != "" {
		// A named service implies its configured group.
		if _, g, err := topo.PoolGroup(service); err == nil {
			group = g
		}
	}

	connect := func(group, addr string) (gateway.API, error) {
		endpoint, err := topo.Resolve(group, addr)
		if err != nil {
			return nil, err
		}
		return grpcgw.New(
			grpcgw.Addr(endpoint.Addr),
			grpcgw.DaemonName(endpoint.Daemon),
			grpcgw.ServiceName(endpoint.Service),
			grpcgw.Secure(secure),
			grpcgw.Logger(logger),
		)
	}

	coll := collector.New(logger, connect, topo)
	defer func() {
		if err := coll.Close(); err != nil {
			logger.Error(err, "failed to close collector")
		}
	}()

	runner, title, err := buildRunner(coll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if watch {
		if err := ui.Run(ui.New(runner, interval, title)); err != nil {
			fmt.Fprintf(os.Stderr, "Error running live view: %v\n", err)
			os.Exit(1)
		}
		return
	}

	result := runner.Run(ctx)
	if !result.OK() {
		fmt.Fprintln(os.Stderr, result.Output)
		os.Exit(1)
	}
	fmt.Println(result.Output)
}

func buildRunner(coll *collector.Collector) (top.Runner, string, error) {
	opts := top.Options{
		ServerAddr:    serverAddr,
		Group:         group,
		Service:       service,
		SubsystemNQN:  subsystemNQN,
		SortBy:        sortBy,
		Descending:    descending,
		Summary:       summary,
		NoHeader:      noHeader,
		WithTimestamp: withTimestamp,
	}

	switch mode {
	case "cpu":
		if opts.SortBy == "" {
			opts.SortBy = "Thread Name"
		}
		return top.NewCPURunner(coll, opts), "nvmeof-top cpu", nil
	case "io":
		if opts.SortBy == "" {
			opts.SortBy = "NSID"
		}
		return top.NewIORunner(coll, opts), "nvmeof-top io", nil
	default:
		return nil, "", fmt.Errorf("unknown mode %q, expected io or cpu", mode)
	}
}
