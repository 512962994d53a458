// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mc3p.
package errors

import (
	"errors"
	"fmt"
)

// Protocol is the protocol label attached to proxy errors.
const Protocol = "mc"

// Common error types
var (
	// ErrUnauthorized indicates a lifecycle hook rejected the session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnsupportedVersion indicates the client announced an unknown protocol version.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrDesync indicates a relay lost track of message boundaries.
	ErrDesync = errors.New("stream desynchronized")

	// ErrBackendUnavailable indicates the game server could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates rate limit exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ProxyError wraps an error with the session it happened in.
type ProxyError struct {
	Op         string // Operation that failed
	Protocol   string
	SessionID  string
	RemoteAddr string // Client address
	Err        error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Protocol, e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError. It returns nil for a nil err.
func New(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		Protocol:   Protocol,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsExpected reports whether err is part of a normal session end and
// does not deserve an error log.
func IsExpected(err error) bool {
	return err == nil || errors.Is(err, ErrConnectionClosed)
}
