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

// NamespaceHeaders are the I/O view's columns, in order. The view is
// sortable only by one of these names.
var NamespaceHeaders = []string{
	"NSID", "RBD Image", "IOPS", "r/s", "rMB/s", "r_await", "rareq-sz",
	"w/s", "wMB/s", "w_await", "wareq-sz", "LBGrp", "QoS",
}

var (
	subsystemSummaryHeaders = []string{"Subsystem", "Namespaces"}
	overallSummaryHeaders   = []string{"Gateway", "Load Balancing Group", "Total Subsystems", "Total Namespaces"}
)

const namespaceTemplate = "%4s   %-40s   %7s   %6s   %6s   %7s   %8s   %6s   %6s   %7s   %8s   %s   %3s\n"

// IORunner renders the per-namespace I/O view for the selected subsystem.
type IORunner struct {
	collector *collector.Collector
	opts      Options
}

func NewIORunner(c *collector.Collector, opts Options) *IORunner {
	return &IORunner{collector: c, opts: opts}
}

// Run performs one I/O collection pass. Any failure comes back as a Result;
// nothing escapes to the caller's caller.
func (r *IORunner) Run(ctx context.Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = errorResult(p)
		}
	}()

	if r.opts.SubsystemNQN == "" {
		return errorResult("Required argument '--subsystem' missing")
	}
	sortCol, err := sortColumn(NamespaceHeaders, r.opts.SortBy)
	if err != nil {
		return errorResult(err)
	}

	r.collector.Initialise(ctx, collector.Params{
		ServerAddr:   r.opts.ServerAddr,
		Group:        r.opts.Group,
		SubsystemNQN: r.opts.SubsystemNQN,
	})
	if !r.collector.Ready() {
		health := r.collector.Health()
		return Result{
			Code:   health.Code,
			Output: fmt.Sprintf("nvmeof-top has encountered an error: %s", health.Msg),
		}
	}

	r.collector.CollectIOData(ctx)
	if !r.collector.Ready() {
		health := r.collector.Health()
		return Result{Code: health.Code, Output: health.Msg}
	}

	return Result{Output: r.format(sortCol) + "\n ---- "}
}

func (r *IORunner) format(sortCol int) string {
	rows := r.collector.SortedNamespaces(sortCol, r.opts.Descending)

	var b strings.Builder
	if r.opts.WithTimestamp {
		b.WriteString(timestampLine(r.collector.Timestamp(), r.collector.Delay()))
	}
	if r.opts.Summary {
		// The overall block only makes sense against a single gateway;
		// in fleet mode the bound gateway is an arbitrary member.
		if r.opts.ServerAddr != "" {
			b.WriteString(summaryLine(overallSummaryHeaders, r.collector.OverallSummary()))
			b.WriteString("\n")
		}
		b.WriteString(summaryLine(subsystemSummaryHeaders, r.collector.SubsystemSummary()))
		b.WriteString("\n\n")
	}
	if !r.opts.NoHeader {
		b.WriteString(formatNamespaceLine(
			NamespaceHeaders[0], NamespaceHeaders[1], NamespaceHeaders[2],
			NamespaceHeaders[3], NamespaceHeaders[4], NamespaceHeaders[5],
			NamespaceHeaders[6], NamespaceHeaders[7], NamespaceHeaders[8],
			NamespaceHeaders[9], NamespaceHeaders[10], NamespaceHeaders[11],
			NamespaceHeaders[12],
		))
	}
	if len(rows) == 0 {
		b.WriteString("<no namespaces defined>\n")
	}
	for _, row := range rows {
		b.WriteString(formatNamespaceLine(
			fmt.Sprintf("%d", row.NSID),
			row.Image,
			fmt.Sprintf("%d", row.TotalOps),
			fmt.Sprintf("%d", row.ReadOps),
			fmt.Sprintf("%3.2f", row.ReadMB),
			fmt.Sprintf("%3.2f", row.ReadAwait),
			fmt.Sprintf("%4.2f", row.ReadReqSz),
			fmt.Sprintf("%d", row.WriteOps),
			fmt.Sprintf("%3.2f", row.WriteMB),
			fmt.Sprintf("%3.2f", row.WriteAwait),
			fmt.Sprintf("%4.2f", row.WriteReqSz),
			row.LBGroup,
			row.QoS,
		))
	}
	b.WriteString("\n")
	return b.String()
}

func formatNamespaceLine(nsid, image, iops, rs, rmb, rawait, rareq, ws, wmb, wawait, wareq, lbgrp, qos string) string {
	return fmt.Sprintf(namespaceTemplate,
		nsid, image, iops, rs, rmb, rawait, rareq, ws, wmb, wawait, wareq,
		center(lbgrp, 5), qos)
}
