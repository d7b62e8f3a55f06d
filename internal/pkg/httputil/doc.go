// Package httputil provides small helpers for writing consistent JSON
// HTTP responses across all API handlers.
package httputil
