// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package top

import (
	"context"
	"fmt"
	"strings"

	"github.com/antimetal/nvmeof-top/pkg/collector"
)

// ReactorHeaders are the CPU view's columns, in order. The view is sortable
// only by one of these names.
var ReactorHeaders = []string{"Gateway", "Thread Name", "Busy Rate%", "Idle Rate%"}

const reactorTemplate = "%-30s   %-30s   %-20s   %-20s\n"

// CPURunner renders the per-thread busy/idle view for a gateway or a whole
// fleet service.
type CPURunner struct {
	collector *collector.Collector
	opts      Options
}

func NewCPURunner(c *collector.Collector, opts Options) *CPURunner {
	return &CPURunner{collector: c, opts: opts}
}

// Run performs one CPU collection pass. Any failure comes back as a Result;
// nothing escapes to the caller's caller.
func (r *CPURunner) Run(ctx context.Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = errorResult(p)
		}
	}()

	sortCol, err := sortColumn(ReactorHeaders, r.opts.SortBy)
	if err != nil {
		return errorResult(err)
	}

	r.collector.Initialise(ctx, collector.Params{
		ServerAddr: r.opts.ServerAddr,
		Group:      r.opts.Group,
		Service:    r.opts.Service,
	})
	if !r.collector.Ready() {
		health := r.collector.Health()
		return Result{
			Code:   health.Code,
			Output: fmt.Sprintf("nvmeof-top has encountered an error: %s", health.Msg),
		}
	}

	r.collector.CollectCPUData(ctx)
	if !r.collector.Ready() {
		health := r.collector.Health()
		return Result{Code: health.Code, Output: health.Msg}
	}

	return Result{Output: r.format(sortCol) + "\n ---- "}
}

func (r *CPURunner) format(sortCol int) string {
	rows := r.collector.ReactorData(sortCol, r.opts.Descending)

	var b strings.Builder
	if r.opts.WithTimestamp {
		b.WriteString(timestampLine(r.collector.Timestamp(), r.collector.Delay()))
	}
	if !r.opts.NoHeader {
		fmt.Fprintf(&b, reactorTemplate,
			ReactorHeaders[0], ReactorHeaders[1], ReactorHeaders[2], ReactorHeaders[3])
	}
	for _, row := range rows {
		fmt.Fprintf(&b, reactorTemplate,
			row.Gateway,
			row.Thread,
			fmt.Sprintf("%.2f", row.BusyRate*100),
			fmt.Sprintf("%.2f", row.IdleRate*100),
		)
	}
	b.WriteString("\n")
	return b.String()
}
