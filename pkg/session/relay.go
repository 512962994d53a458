// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mcerrors "github.com/absmach/mc3p/pkg/errors"
	"github.com/absmach/mc3p/pkg/metrics"
	"github.com/absmach/mc3p/pkg/parser"
	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

const readSize = 4096

// relay reads one side of the session and writes what it decodes to the other.
type relay struct {
	s      *Session
	dir    protocol.Direction
	src    net.Conn
	dst    *writer
	cursor *protocol.Cursor
	state  atomic.Int32
	logger *slog.Logger
}

func newRelay(s *Session, dir protocol.Direction, src net.Conn, dst *writer) *relay {
	return &relay{
		s:      s,
		dir:    dir,
		src:    src,
		dst:    dst,
		cursor: protocol.NewCursor(),
		logger: s.logger.With(slog.String("side", dir.Source())),
	}
}

// State reports Active for both relays as soon as the pipeline is active,
// whichever relay carried the server's login response.
func (r *relay) State() State {
	st := State(r.state.Load())
	if st == Handshake && r.s.pipeline.Active() {
		return Active
	}
	return st
}

func (r *relay) run(ctx context.Context) error {
	buf := make([]byte, readSize)
	lastStats := time.Now()
	for {
		n, err := r.src.Read(buf)
		if n > 0 {
			if perr := r.process(ctx, buf[:n]); perr != nil {
				return mcerrors.Wrap(perr, r.dir.Source()+" relay")
			}
			if time.Since(lastStats) >= r.s.cfg.StatsInterval {
				r.logStats()
				lastStats = time.Now()
			}
		}
		if err != nil {
			return err
		}
	}
}

func (r *relay) logStats() {
	r.logger.Debug("Relay throughput",
		slog.String("state", r.State().String()),
		slog.Int("total_bytes", r.cursor.TotalConsumed),
		slog.Int("wasted_bytes", r.cursor.WastedRereads))
}

// process appends data to the cursor and handles every complete message.
func (r *relay) process(ctx context.Context, data []byte) error {
	if r.State() == Desynced {
		return r.dst.passthrough(data)
	}

	r.cursor.Append(data)
	for {
		msg, err := parser.ParsePacket(r.cursor, r.s.table.Load(), r.dir)
		switch {
		case err == nil:
		case errors.Is(err, parser.ErrNeedMoreData):
			return nil
		case errors.Is(err, parser.ErrUnsupportedType):
			return r.desync(err, "unsupported_type")
		default:
			return r.desync(err, "malformed_field")
		}

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
		if r.State() == Desynced {
			return nil
		}
	}
}

func (r *relay) handle(ctx context.Context, msg *protocol.Message) error {
	dir := r.dir.String()
	r.s.cfg.Metrics.ObserveMessage(dir, msg.Type, len(msg.Raw()))

	if r.dir == protocol.Upstream && msg.Type == protocol.TypeLogin {
		if err := r.s.login(ctx, msg); err != nil {
			return err
		}
	}

	verdict := r.s.pipeline.Filter(ctx, msg, r.dir)

	if verdict == plugin.Drop {
		r.s.cfg.Metrics.ObserveDrop(dir, msg.Type)
		return r.dst.forward(nil)
	}

	b, err := msg.Bytes()
	if err != nil {
		r.logger.Error("Failed to encode modified message, forwarding original",
			slog.String("type", metrics.TypeLabel(msg.Type)),
			slog.Any("error", err))
		if werr := r.dst.forward(msg.Raw()); werr != nil {
			return werr
		}
		return r.desync(err, "encode")
	}
	if msg.Modified() {
		r.s.cfg.Metrics.ObserveModified(dir, msg.Type)
	}
	return r.dst.forward(b)
}

// desync switches the relay to verbatim passthrough, or fails it when the
// session is configured to close instead.
func (r *relay) desync(cause error, reason string) error {
	r.s.cfg.Metrics.ObserveDesync(r.dir.String(), reason)
	if r.s.cfg.CloseOnDesync {
		r.logger.Error("Lost message framing, closing session", slog.Any("error", cause))
		return fmt.Errorf("%w: %w", mcerrors.ErrDesync, cause)
	}

	r.logger.Error("Lost message framing, forwarding raw bytes", slog.Any("error", cause))
	r.state.Store(int32(Desynced))
	return r.dst.passthrough(r.cursor.Drain())
}

// writer serializes everything written to one connection so forwarded and
// injected messages never interleave.
type writer struct {
	mu      sync.Mutex
	conn    net.Conn
	outbox  *plugin.Outbox
	dir     protocol.Direction
	raw     bool
	metrics *metrics.Metrics
}

// forward writes b followed by any queued injections.
func (w *writer) forward(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(b) > 0 {
		if _, err := w.conn.Write(b); err != nil {
			return err
		}
	}
	return w.drain()
}

// flush writes queued injections.
func (w *writer) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.drain()
}

func (w *writer) drain() error {
	if w.raw {
		return nil
	}
	msgs := w.outbox.Drain()
	for _, m := range msgs {
		if _, err := w.conn.Write(m); err != nil {
			return err
		}
	}
	w.metrics.ObserveInjected(w.dir.String(), len(msgs))
	return nil
}

// passthrough writes b verbatim and disables injection for good, since
// message boundaries in this direction are no longer known.
func (w *writer) passthrough(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.raw = true
	if len(b) == 0 {
		return nil
	}
	w.metrics.ObservePassthrough(w.dir.String(), len(b))
	_, err := w.conn.Write(b)
	return err
}

// flushLoop writes injections while the relay feeding this writer is idle.
func (w *writer) flushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.outbox.Notify():
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
}
