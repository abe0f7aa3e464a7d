// Package host connects the bridge to the home-automation host that owns
// the device objects.
//
// Two implementations of engine.Registrar are provided:
//
//   - NodeStore keeps nodes in the local SQLite database. Creation is
//     acknowledged immediately and configuration deliveries are recorded
//     in host_settings.
//   - MQTTLink talks to a remote host over MQTT. Creation acks and the
//     retained configuration deliveries arrive asynchronously and are
//     routed to the engine's CreationWaiter and Gate. The link also
//     accepts commands and publishes shade and scene status.
package host

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
