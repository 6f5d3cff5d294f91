// Package api exposes the admission HTTP surface: login, verify, logout,
// and the stream handle endpoint. Handlers translate service errors into a
// stable JSON error vocabulary and never echo credentials or stream
// references back to clients.
package api
