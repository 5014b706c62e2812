// Package api exposes the HTTP surface: stateless analysis and publishing
// endpoints under /api, per-session workflow endpoints and the receipt ledger
// under /api/v1, and Prometheus metrics under /metrics.
package api
