// Package httputil holds the response helpers used by the status server
// handlers, so every endpoint writes the same JSON and error envelope.
package httputil
