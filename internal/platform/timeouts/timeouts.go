// Package timeouts defines shared timeout constants used by the entry points.
package timeouts

import "time"

// Shutdown limits how long telemetry exporters may take to flush on exit.
const Shutdown = 5 * time.Second

// Handler is the per-invocation handler deadline used when none is configured.
// Zero means handlers run without a deadline.
const Handler time.Duration = 0
