// Package mqtt provides the broker connection that feeds meter readings into
// the bridge.
//
// This package manages:
//   - Connection to the broker, with paho auto-reconnect for short drops
//   - An explicit Reconnect for the connection supervisor
//   - Tracked subscriptions restored on every new session
//   - Retained online/offline status plus a Last Will on
//     tariffbridge/<client_id>/status
//
// Handlers run on paho's delivery goroutine and must not block. The bridge
// subscribes with a handler that only enqueues the raw payload.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.Sensor.Topic, byte(cfg.MQTT.QoS), handler)
package mqtt
