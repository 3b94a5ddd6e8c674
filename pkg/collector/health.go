// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Health result codes. Zero is healthy; failures carry a negated errno so
// callers can hand the code straight back as a process exit status.
const (
	CodeOK          = 0
	CodeConnRefused = -int(unix.ECONNREFUSED)
	CodeNotFound    = -int(unix.ENOENT)
	CodeInvalid     = -int(unix.EINVAL)
)

// Health is the status carrier threaded through every collector operation.
// Expected failure modes travel as Health values rather than errors so a
// partially-failed pass still leaves the collector usable on the next poll.
type Health struct {
	Code int
	Msg  string
}

// OK reports whether the operation that produced this Health succeeded.
func (h Health) OK() bool {
	return h.Code == 0
}

func (h *Health) set(code int, format string, args ...any) {
	h.Code = code
	h.Msg = fmt.Sprintf(format, args...)
}
