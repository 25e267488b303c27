// Package sink provides dispatch observers for the engine: structured logs,
// Prometheus metrics and OpenTelemetry spans. None of them can alter
// dispatch; the engine downgrades their failures to warnings.
package sink
