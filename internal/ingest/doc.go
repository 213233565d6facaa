// Package ingest moves raw meter messages from the MQTT callback to the
// sinks.
//
// The MQTT delivery goroutine only calls Queue.Enqueue. A single Worker
// polls the queue, idling between empty polls, and for each message runs:
//
//	meter.Decode -> tariff.Classify -> Project -> TimeSeriesSink, MetricsSink
//
// A failure at any stage, including a panic inside a sink, is logged and
// the message is discarded. Under PolicyClear the rest of the queue is
// discarded too. The worker never retries and never stops on a bad message.
package ingest
