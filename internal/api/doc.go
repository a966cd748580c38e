// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for loop snapshots.
//   - POST /v1/sync/full and /v1/sync/updates to wake a loop early.
//   - POST /v1/subscriptions and GET /v1/items/{item_id}/subscribers for
//     subscription management.
package api
