// Package bootstrap wires the detection engine together: logger,
// configuration, corpus source and loader, state store, engine and API
// server, plus the startup sequence and graceful shutdown.
package bootstrap
