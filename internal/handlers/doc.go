// Package handlers provides HTTP request handlers for the scanner API.
//
// It includes handlers for:
//   - Scan status, start and cancel
//   - Group listings and group contents
//   - Health checks, version and Prometheus metrics
package handlers
