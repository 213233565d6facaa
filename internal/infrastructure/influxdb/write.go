package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/energy-tariff-bridge/internal/ingest"
)

// WriteRecord queues one record for the next batch.
//
// The write is non-blocking; server-side failures surface later through
// the OnError callback. ErrNotConnected is returned while no connection is up.
func (c *Client) WriteRecord(ctx context.Context, rec ingest.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.writeAPI == nil || !c.connected {
		return ErrNotConnected
	}

	c.writeAPI.WritePoint(toPoint(rec))
	return nil
}

// toPoint maps a record onto an InfluxDB point, one field per reading value.
func toPoint(rec ingest.Record) *write.Point {
	return write.NewPoint(rec.Measurement, rec.Tags, rec.Fields, rec.Time)
}
