// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// RemoteOperation caps a single one-shot call against the document store.
// Live subscriptions are not bounded by it.
const RemoteOperation = 10 * time.Second

// PresenceWrite caps one heartbeat write. Presence is advisory so a slow
// write is abandoned rather than awaited.
const PresenceWrite = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
