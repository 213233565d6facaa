// Package prometheus is the bridge's pull-based metrics sink.
//
// The Exporter keeps one gauge per meter value, labelled with the
// measurement, device class and sensor name, and overwrites it with every
// classified reading. It also carries the bridge's own pipeline metrics
// under the tariffbridge_ namespace.
//
// # Usage
//
//	exp := prometheus.New(cfg.Prometheus)
//	exp.RegisterQueue(queue)
//	if err := exp.Start(); err != nil {
//	    return err
//	}
//	defer exp.Close()
//
// The endpoint serves the configured path (default /metrics) and /healthz.
package prometheus
