// Package platform is the SDK for communicating with the Unpod platform
// API.
//
// Every request made through the SDK participates in the request/response
// integrity contract: the client serializes the payload into a canonical
// string, signs the (method, relative URL, payload, timestamp) envelope
// with a shared secret, and attaches the digest and timestamp as headers.
// Responses carry the same header pair and are verified symmetrically,
// with replay protection through a timestamp freshness window.
//
// # Overview of Packages
//
//   - platform - The main SDK package: construction and configuration
//   - api - The REST surface used by the application (get/post/put/patch/delete)
//   - middleware - The server-side counterpart: validates request
//     checksums and signs responses on an http.Handler
//   - pkg/canonical - Deterministic payload serialization
//   - pkg/checksum - Digest computation, verification and freshness
package platform
