// Package middleware provides HTTP middleware for the scanner API: an access
// log in W3C extended format and Prometheus request metrics.
package middleware
