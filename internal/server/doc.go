// Package server implements the deploymetrics HTTP API.
//
// This package provides:
//   - Deployment ingest (POST /api/v1/deployment) with optional HMAC signature verification
//   - GitHub push webhooks converted into deployments
//   - Deployment listing by id, application, hierarchy and calendar day
//   - Deployment frequency and lead time for changes per application subtree
//   - Health and Prometheus metrics endpoints
//
// The server integrates with other packages:
//   - internal/deployment: storage, hierarchy roll-up and metric calculation
//   - internal/ingest: GitHub webhook validation and push conversion
//   - internal/security: identifier validation
//
// Security features:
//   - HMAC-SHA256 ingest signature (X-Signature-256) when an ingest secret is configured
//   - Content-Type validation (application/json only)
//   - Payload size limits (1MB max)
//   - Per-IP rate limiting (global and ingest)
package server
