// Package logging builds the bridge's slog loggers.
//
// Every entry carries service=pvbridge and the build version. Output is
// JSON unless logging.format is "text":
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Subsystems take a child logger from Component, which adds a
// "component" attribute, and hold it behind their own small Logger
// interface:
//
//	eng := engine.New(gw, host, cfg, engine.WithLogger(log.Component("engine")))
//
// Hub addresses and shade names are fine to log. The MQTT password,
// InfluxDB token and JWT secret are not.
package logging
