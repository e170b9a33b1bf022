// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// Install caps the install transition, which fetches the whole cache
// manifest before the service starts answering requests.
const Install = 30 * time.Second

// OriginFetch caps a single manifest fetch from a remote origin.
const OriginFetch = 10 * time.Second
