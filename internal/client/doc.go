// Package client provides the raw HTTP transport for the Unpod platform
// API: it prepares and signs outgoing requests with the request/response
// integrity checksum, dispatches them, and validates the checksum on the
// way back, rejecting tampered or replayed responses in strict mode.
package client
