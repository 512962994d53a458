// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	tapQueue        = 64
	tapWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is what tap subscribers receive for each message, as JSON.
type Event struct {
	Stream    string          `json:"stream"`
	Time      time.Time       `json:"time"`
	Source    string          `json:"source"`
	Type      byte            `json:"type"`
	Name      string          `json:"name"`
	Size      int             `json:"size"`
	Fields    protocol.Fields `json:"fields,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Tap broadcasts every message of the session to WebSocket subscribers.
// Its argument is the address to serve on. Sessions tapping the same address
// share one server; events carry a per-session stream id.
type Tap struct {
	logger *slog.Logger
	stream string
	addr   string
	hub    *hub
}

// NewTap creates a plugin broadcasting messages to WebSocket subscribers.
func NewTap(inj plugin.Injector) plugin.Plugin {
	return &Tap{logger: inj.Logger(), stream: uuid.NewString()}
}

func (t *Tap) Init(args string) error {
	t.addr = strings.TrimSpace(args)
	if t.addr == "" {
		return fmt.Errorf("%w: missing tap address", plugin.ErrConfig)
	}
	h, err := hubs.acquire(t.addr, t.logger)
	if err != nil {
		return err
	}
	t.hub = h
	return nil
}

func (t *Tap) Destroy() error {
	if t.hub == nil {
		return nil
	}
	t.hub = nil
	return hubs.release(t.addr)
}

func (t *Tap) HandleMessage(_ context.Context, msg *protocol.Message, dir protocol.Direction) (plugin.Verdict, error) {
	if t.hub.subscribers() == 0 {
		return plugin.Forward, nil
	}
	ev := Event{
		Stream: t.stream,
		Time:   time.Now(),
		Source: dir.Source(),
		Type:   msg.Type,
		Name:   msg.Name(),
		Size:   len(msg.Raw()),
		Fields: msg.Fields(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		// Values JSON can not express, such as NaN floats.
		ev.Fields, ev.Truncated = nil, true
		if b, err = json.Marshal(ev); err != nil {
			return plugin.Forward, err
		}
	}
	t.hub.broadcast(b)
	return plugin.Forward, nil
}

// Addr returns the address the tap server listens on.
func (t *Tap) Addr() string {
	if t.hub == nil {
		return ""
	}
	return t.hub.listener.Addr().String()
}

var hubs = &hubSet{hubs: make(map[string]*hub)}

type hubSet struct {
	mu   sync.Mutex
	hubs map[string]*hub
}

func (s *hubSet) acquire(addr string, logger *slog.Logger) (*hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.hubs[addr]; ok {
		h.refs++
		return h, nil
	}
	h, err := newHub(addr, logger)
	if err != nil {
		return nil, err
	}
	s.hubs[addr] = h
	return h, nil
}

func (s *hubSet) release(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hubs[addr]
	if !ok {
		return nil
	}
	if h.refs--; h.refs > 0 {
		return nil
	}
	delete(s.hubs, addr)
	return h.close()
}

type hub struct {
	refs     int
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(addr string, logger *slog.Logger) (*hub, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h := &hub{
		refs:     1,
		logger:   logger.With(slog.String("tap", l.Addr().String())),
		listener: l,
		subs:     make(map[*subscriber]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleWS)
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := h.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("tap server stopped", slog.String("error", err.Error()))
		}
	}()
	h.logger.Info("tap server started")
	return h, nil
}

func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, tapQueue)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("tap subscriber connected", slog.String("remote", r.RemoteAddr))

	go h.writeLoop(sub)
	// Subscribers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
}

func (h *hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for b := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(tapWriteTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.remove(sub)
			return
		}
	}
	sub.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "tap closed"))
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcast queues b for every subscriber. Slow subscribers miss events
// rather than stall the session.
func (h *hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- b:
		default:
		}
	}
}

func (h *hub) close() error {
	h.mu.Lock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}
