// Package influxdb is the bridge's time-series sink.
//
// It wraps the official influxdb-client-go v2 library. Each classified
// reading becomes one point in the configured measurement, tagged with the
// sensor identity and tariff window:
//
//	energy,class=energy,sensor=pzem004t,time_period=night,time_period_id=1,temperature_unit=C
//	    total=12.5,power=120i,voltage=230i,... 1704067200000000000
//
// # Usage
//
//	sink := influxdb.New(cfg.InfluxDB)
//	if err := sink.Connect(ctx); err != nil {
//	    logger.Warn("influxdb unavailable, supervisor will retry", "error", err)
//	}
//	defer sink.Close()
//
// # Error Handling
//
// Writes are non-blocking and batched; batch failures are delivered to the
// OnError callback. Connection and health check errors are returned
// directly and drive the connection supervisor.
package influxdb
