// Package config loads the bridge configuration.
//
// Values are layered: built-in defaults, then the YAML file
// (configs/config.yaml unless PVBRIDGE_CONFIG names another), then
// PVBRIDGE_* environment variables, then Validate. Secrets such as the
// MQTT password, InfluxDB token and JWT secret are best supplied through
// the environment.
//
// Durations are stored as plain integers in the unit the YAML comment
// names; the Get* helpers convert them to time.Duration.
package config
