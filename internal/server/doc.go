// Package server hosts the content API behind a single chi router.
//
// Every request passes the same middleware chain: request IDs, request
// logging, metrics, security headers, CORS and body limits. /api routes add
// per-address rate limiting, and mutating routes additionally require an
// admin bearer token and emit an audit line.
package server
