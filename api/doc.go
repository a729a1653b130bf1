// Package api defines the request and response types of the streamgate HTTP API.
//
// # API Overview
//
// streamgate exposes a small API around one long-running stream per app:
//   - POST /api/v1/chat streams a new run as Server-Sent Events. The app is
//     selected with the X-App-ID header; a stream already running for the app
//     is stopped first.
//   - DELETE /api/v1/apps/{id}/stream asks the running stream to stop.
//   - GET /api/v1/apps/{id}/stream reports the liveness record of the app.
//   - /health, /healthz, /ready and /version for monitoring; /metrics on the
//     metrics port.
//
// # Events
//
// The chat stream emits "chunk" events carrying progress, then exactly one
// "done" or "error" event, then the literal data line [DONE].
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
