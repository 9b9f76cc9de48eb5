// Package server implements the multi-transport server manager: per-server
// connection lifecycle, protocol handshakes, tool discovery, and the
// request/response correlator.
package server

import "errors"

var (
	// ErrNotConnected is returned for calls against a server with no open
	// connection, and used to fail pending calls when a connection drops.
	ErrNotConnected = errors.New("server not connected")
	// ErrServerNotFound is returned for an unknown server id.
	ErrServerNotFound = errors.New("server not found")
	// ErrBuiltinServer rejects removal of a built-in server config.
	ErrBuiltinServer = errors.New("built-in server cannot be removed")
	// ErrInvalidURL rejects connecting with an empty or literal "null" URL.
	ErrInvalidURL = errors.New("server url is empty or invalid")
)
