// Package supervisor keeps outbound connections alive.
//
// One Supervisor runs per connection (MQTT, InfluxDB). Each tick it asks
// its Target whether the connection is alive; if not, it issues a single
// Reconnect and checks again before declaring the connection restored. A
// target that stays down costs one reconnect per tick, never more.
//
//	Connected --check fails--> Disconnected --reconnect + check ok--> Connected
package supervisor
