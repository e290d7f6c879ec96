package xserver

import "errors"

// Startup failures come in two flavors. Resource creation covers socket
// pairs and process launch; handshake timeout covers the client handle
// ceiling and the readiness beacon window. Neither is retried here;
// recovery belongs to the connector.
var (
	ErrResourceCreation = errors.New("xserver: resource creation failed")
	ErrHandshakeTimeout = errors.New("xserver: startup handshake timed out")
)
