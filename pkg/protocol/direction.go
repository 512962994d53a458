// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

// Direction indicates the direction of message flow.
type Direction int

const (
	// Upstream represents messages flowing from client to server.
	Upstream Direction = iota

	// Downstream represents messages flowing from server to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Source names the endpoint a message in this direction originates from.
func (d Direction) Source() string {
	switch d {
	case Upstream:
		return "client"
	case Downstream:
		return "server"
	default:
		return "unknown"
	}
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Upstream {
		return Downstream
	}
	return Upstream
}
