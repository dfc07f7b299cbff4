// Package progress fans crawl.Event values out to pluggable sinks. The Hub
// batches events on a background goroutine so the Runner never blocks on
// metrics, logging or notification delivery.
package progress
