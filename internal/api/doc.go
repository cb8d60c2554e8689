// Package api hosts the optional status server of a crawl run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the weighted task snapshot.
//   - GET /results for bucket counts and /results/documents for documents
//     kept by an in-memory writer.
package api
