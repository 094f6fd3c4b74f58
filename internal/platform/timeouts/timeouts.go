// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Upstream caps a single network round trip issued by the edge router,
// including background refreshes that outlive the client request.
const Upstream = 30 * time.Second

// CacheWrite caps one detached cache write.
const CacheWrite = 5 * time.Second

// InstallRetry is the delay between failed version installs.
const InstallRetry = 30 * time.Second

// TunnelDial caps dialing the target of a CONNECT tunnel.
const TunnelDial = 10 * time.Second
