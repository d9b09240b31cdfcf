// Package server exposes the runtime over HTTP: health, flow and step
// listings, root event emission, api step routing, and a websocket stream
// of step logs
package server
