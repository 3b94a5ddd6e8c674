// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package top bridges the collector to the rendered views. A Runner binds a
// Collector, a sort key/direction and the mode-specific identifiers, and
// turns one collection pass into formatted text or a failure result.
package top

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antimetal/nvmeof-top/pkg/collector"
)

// Options carries the caller-supplied invocation parameters shared by both
// view modes.
type Options struct {
	// ServerAddr binds to a single explicit gateway; empty means fleet
	// mode against Service.
	ServerAddr string
	Group      string

	// Service is the fleet service name (CPU mode).
	Service string

	// SubsystemNQN is the target subsystem (I/O mode, required there).
	SubsystemNQN string

	SortBy     string
	Descending bool

	Summary       bool
	NoHeader      bool
	WithTimestamp bool
}

// Result is the outcome of one run: code 0 with rendered output, or a
// negative code with a human-readable message.
type Result struct {
	Code   int
	Output string
}

// OK reports whether the run succeeded.
func (r Result) OK() bool {
	return r.Code == 0
}

// Runner executes one collection pass and renders it.
type Runner interface {
	Run(ctx context.Context) Result
}

// sortColumn validates a sort key against a view's column names and returns
// its index. An unknown key is a caller-input error raised before any
// remote work.
func sortColumn(headers []string, key string) (int, error) {
	for i, header := range headers {
		if header == key {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid sort key %q, valid options: %s", key, strings.Join(headers, ", "))
}

// timestampLine renders the optional snapshot header line.
func timestampLine(ts time.Time, delay float64) string {
	return fmt.Sprintf("%s (delay: %.2fs)\n", ts.Format("2006-01-02 15:04:05"), delay)
}

// summaryLine renders "Header: value  " pairs on one line.
func summaryLine(headers, values []string) string {
	var b strings.Builder
	for i, header := range headers {
		fmt.Fprintf(&b, "%s: %s  ", header, values[i])
	}
	return b.String()
}

// center pads a string to width with the content centered, matching the
// table's LBGrp column alignment.
func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// errorResult wraps an unexpected failure as an invalid-argument result so
// a collection attempt can never crash the caller.
func errorResult(v any) Result {
	return Result{Code: collector.CodeInvalid, Output: fmt.Sprint(v)}
}
