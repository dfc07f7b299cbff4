// Package sinks implements concrete progress consumers: Prometheus metrics,
// structured logging, and run notifications over a Publisher. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close calls.
package sinks
