// Package timeouts defines shared timeout constants used across the gateway.
// Centralizing these values prevents drift between the transport strategies
// and the serving layer and makes the durations discoverable.
package timeouts

import "time"

// ApplianceRequest caps a single request to the managed appliance when the
// configuration does not override it.
const ApplianceRequest = 30 * time.Second

// SSHDial caps the wait time when opening a remote shell session.
const SSHDial = 10 * time.Second

// ReadHeader limits how long the HTTP front-end waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP front-end waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
