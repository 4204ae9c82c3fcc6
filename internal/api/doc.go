// Package api hosts the HTTP handlers for the content API.
//
// Handlers validate input, enforce the admin role on mutations and shape
// responses; persistence goes through the ContentStore injected at
// construction. Rate limiting, CORS, security headers, body limits and
// request logging are applied by internal/server before a handler runs, so
// handlers do not repeat those checks.
package api
