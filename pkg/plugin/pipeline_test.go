// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/absmach/mc3p/pkg/protocol"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	id  string
	typ byte
	dir protocol.Direction
}

type mockPlugin struct {
	id       string
	calls    *[]call
	verdicts map[byte]Verdict
	bindings []Binding
	initErr  error
	panicOn  byte
	errOn    byte
	args     string
	inj      Injector

	destroyed int
}

func (m *mockPlugin) Init(args string) error {
	m.args = args
	return m.initErr
}

func (m *mockPlugin) Destroy() error {
	m.destroyed++
	return nil
}

func (m *mockPlugin) HandleMessage(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (Verdict, error) {
	*m.calls = append(*m.calls, call{id: m.id, typ: msg.Type, dir: dir})
	if m.panicOn != 0 && msg.Type == m.panicOn {
		panic("boom")
	}
	if m.errOn != 0 && msg.Type == m.errOn {
		return Drop, errors.New("handler failed")
	}
	return m.verdicts[msg.Type], nil
}

func (m *mockPlugin) Bindings() []Binding {
	return m.bindings
}

type fixture struct {
	calls   []call
	plugins map[string]*mockPlugin
	reg     *Registry
	cfg     *Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		plugins: make(map[string]*mockPlugin),
		reg:     NewRegistry(),
		cfg:     NewConfig(),
	}
}

// add registers a plugin named id and configures one instance of it.
func (f *fixture) add(t *testing.T, id string, setup func(m *mockPlugin)) {
	t.Helper()
	err := f.reg.Register(id, func(inj Injector) Plugin {
		m := &mockPlugin{id: id, calls: &f.calls, verdicts: map[byte]Verdict{}, inj: inj}
		if setup != nil {
			setup(m)
		}
		f.plugins[id] = m
		return m
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := f.cfg.Add(id, "", "args-"+id); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
}

func (f *fixture) pipeline() *Pipeline {
	return NewPipeline(f.cfg, f.reg, testLogger)
}

func message(t *testing.T, version int32, dir protocol.Direction, typ byte, fields protocol.Fields) *protocol.Message {
	t.Helper()
	table, ok := protocol.Lookup(version)
	if !ok {
		t.Fatalf("unknown version %d", version)
	}
	def := table.Lookup(dir, typ)
	if def == nil {
		t.Fatalf("no definition for 0x%02x %s", typ, dir)
	}
	raw, err := def.Encode(fields)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return protocol.NewParsedMessage(def, dir, fields, raw)
}

func clientLogin(t *testing.T, version int32) *protocol.Message {
	return message(t, 0, protocol.Upstream, protocol.TypeLogin, protocol.Fields{
		"proto_version": version, "username": "alice", "nu1": int64(0), "nu2": int32(0),
		"nu3": int8(0), "nu4": int8(0), "nu5": uint8(0), "nu6": uint8(0),
	})
}

func serverLogin(t *testing.T) *protocol.Message {
	return message(t, 0, protocol.Downstream, protocol.TypeLogin, protocol.Fields{
		"eid": int32(1), "reserved": "", "map_seed": int64(0), "server_mode": int32(0),
		"dimension": int8(0), "difficulty": int8(0), "world_height": uint8(128), "max_players": uint8(8),
	})
}

func chat(t *testing.T, dir protocol.Direction, text string) *protocol.Message {
	return message(t, 21, dir, protocol.TypeChat, protocol.Fields{"chat_msg": text})
}

func handshake(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx := context.Background()
	p.Filter(ctx, clientLogin(t, 21), protocol.Upstream)
	p.Filter(ctx, serverLogin(t), protocol.Downstream)
}

func TestPipeline_HandshakeBuffering(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", func(m *mockPlugin) {
		m.verdicts[protocol.TypeHandshake] = Drop
	})
	p := f.pipeline()
	ctx := context.Background()

	hs := message(t, 0, protocol.Upstream, protocol.TypeHandshake, protocol.Fields{"username": "alice"})
	if v := p.Filter(ctx, hs, protocol.Upstream); v != Forward {
		t.Errorf("Expected handshake forwarded before activation, got %v", v)
	}
	if p.Active() || len(f.plugins) != 0 {
		t.Fatal("Plugins must not be instantiated before the server login")
	}

	if v := p.Filter(ctx, clientLogin(t, 21), protocol.Upstream); v != Forward {
		t.Errorf("Expected client login forwarded, got %v", v)
	}
	if v := p.Filter(ctx, serverLogin(t), protocol.Downstream); v != Forward {
		t.Errorf("Expected server login forwarded, got %v", v)
	}
	if !p.Active() {
		t.Fatal("Expected pipeline active after server login")
	}
	if f.plugins["a"].args != "args-a" {
		t.Errorf("Expected Init with configured args, got %q", f.plugins["a"].args)
	}
	if f.plugins["a"].inj.Version() != 21 {
		t.Errorf("Expected injector version 21, got %d", f.plugins["a"].inj.Version())
	}

	want := []call{
		{"a", protocol.TypeHandshake, protocol.Upstream},
		{"a", protocol.TypeLogin, protocol.Upstream},
		{"a", protocol.TypeLogin, protocol.Downstream},
	}
	if len(f.calls) != len(want) {
		t.Fatalf("Expected %d replayed calls, got %v", len(want), f.calls)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("call %d: expected %v, got %v", i, want[i], f.calls[i])
		}
	}

	if v := p.Filter(ctx, hs, protocol.Upstream); v != Drop {
		t.Errorf("Expected handshake dropped once active, got %v", v)
	}
}

func TestPipeline_ReplayIsIsolated(t *testing.T) {
	f := newFixture(t)
	var replays []bool
	f.add(t, "a", func(m *mockPlugin) {
		// Replaces the handshake by dropping it and injecting an edited copy.
		m.bindings = []Binding{{
			Types: []byte{protocol.TypeHandshake},
			Handle: func(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (Verdict, error) {
				replays = append(replays, IsReplay(ctx))
				if err := msg.Set("username", "mallory"); err != nil {
					return Forward, err
				}
				if IsReplay(ctx) {
					return Drop, nil
				}
				b, err := msg.Bytes()
				if err != nil {
					return Forward, err
				}
				return Drop, m.inj.InjectRaw(dir, b)
			},
		}}
	})
	p := f.pipeline()
	ctx := context.Background()

	hs := message(t, 0, protocol.Upstream, protocol.TypeHandshake, protocol.Fields{"username": "alice"})
	raw := append([]byte(nil), hs.Raw()...)
	p.Filter(ctx, hs, protocol.Upstream)
	handshake(t, p)

	if hs.Modified() || hs.String("username") != "alice" {
		t.Errorf("Replay edited the forwarded message: %#v", hs)
	}
	if b, _ := hs.Bytes(); !bytes.Equal(b, raw) {
		t.Errorf("Expected original bytes %x, got %x", raw, b)
	}
	if queued := p.Outbox(protocol.Upstream).Drain(); len(queued) != 0 {
		t.Errorf("Expected nothing injected during replay, got %x", queued)
	}

	live := message(t, 21, protocol.Upstream, protocol.TypeHandshake, protocol.Fields{"username": "alice"})
	if v := p.Filter(ctx, live, protocol.Upstream); v != Drop {
		t.Errorf("Expected live handshake dropped, got %v", v)
	}
	if queued := p.Outbox(protocol.Upstream).Drain(); len(queued) != 1 {
		t.Errorf("Expected one replacement injected, got %x", queued)
	}
	if len(replays) != 2 || !replays[0] || replays[1] {
		t.Errorf("Expected replay then live call, got %v", replays)
	}
}

func TestPipeline_DropShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.add(t, "first", func(m *mockPlugin) { m.verdicts[protocol.TypeChat] = Drop })
	f.add(t, "second", nil)
	p := f.pipeline()
	handshake(t, p)
	f.calls = nil

	if v := p.Filter(context.Background(), chat(t, protocol.Upstream, "hi"), protocol.Upstream); v != Drop {
		t.Errorf("Expected Drop, got %v", v)
	}
	if len(f.calls) != 1 || f.calls[0].id != "first" {
		t.Errorf("Expected only the first plugin to run, got %v", f.calls)
	}
}

func TestPipeline_OrderingOverride(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", nil)
	f.add(t, "b", nil)
	if err := f.cfg.Order(protocol.TypeChat, []string{"b"}); err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	p := f.pipeline()
	handshake(t, p)

	f.calls = nil
	p.Filter(context.Background(), chat(t, protocol.Downstream, "x"), protocol.Downstream)
	if len(f.calls) != 2 || f.calls[0].id != "b" || f.calls[1].id != "a" {
		t.Errorf("Expected b before a for chat, got %v", f.calls)
	}

	f.calls = nil
	p.Filter(context.Background(), message(t, 21, protocol.Downstream, protocol.TypeKeepAlive, protocol.Fields{"id": int32(1)}), protocol.Downstream)
	if len(f.calls) != 2 || f.calls[0].id != "a" {
		t.Errorf("Expected configuration order for keep alive, got %v", f.calls)
	}
}

func TestPipeline_BindingsRunAfterDefault(t *testing.T) {
	var order []string
	f := newFixture(t)
	f.add(t, "a", func(m *mockPlugin) {
		m.bindings = []Binding{{
			Types: []byte{protocol.TypeChat},
			Handle: func(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (Verdict, error) {
				order = append(order, "bound")
				return Drop, nil
			},
		}}
	})
	p := f.pipeline()
	handshake(t, p)
	f.calls = nil

	v := p.Filter(context.Background(), chat(t, protocol.Upstream, "x"), protocol.Upstream)
	if v != Drop {
		t.Errorf("Expected Drop from bound handler, got %v", v)
	}
	if len(f.calls) != 1 || len(order) != 1 {
		t.Errorf("Expected default then bound handler, got calls=%v bound=%v", f.calls, order)
	}
}

func TestPipeline_HandlerFailuresForward(t *testing.T) {
	f := newFixture(t)
	f.add(t, "panics", func(m *mockPlugin) { m.panicOn = protocol.TypeChat })
	f.add(t, "fails", func(m *mockPlugin) { m.errOn = protocol.TypeChat })
	f.add(t, "last", nil)
	p := f.pipeline()
	handshake(t, p)
	f.calls = nil

	if v := p.Filter(context.Background(), chat(t, protocol.Upstream, "x"), protocol.Upstream); v != Forward {
		t.Errorf("Expected Forward, got %v", v)
	}
	if len(f.calls) != 3 {
		t.Errorf("Expected every plugin to run, got %v", f.calls)
	}
}

func TestPipeline_LoadFailuresSkipInstance(t *testing.T) {
	noop := func(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (Verdict, error) {
		return Forward, nil
	}
	f := newFixture(t)
	f.add(t, "initfails", func(m *mockPlugin) { m.initErr = errors.New("bad args") })
	f.add(t, "dup", func(m *mockPlugin) {
		m.bindings = []Binding{
			{Types: []byte{protocol.TypeChat}, Handle: noop},
			{Types: []byte{protocol.TypeChat}, Handle: noop},
		}
	})
	f.add(t, "unknown", func(m *mockPlugin) {
		m.bindings = []Binding{{Types: []byte{0xab}, Handle: noop}}
	})
	f.add(t, "good", nil)
	if err := f.cfg.Add("missing", "", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	p := f.pipeline()
	handshake(t, p)

	if got := p.Instances(); len(got) != 1 || got[0] != "good" {
		t.Errorf("Expected only the good instance, got %v", got)
	}
	if f.plugins["dup"].destroyed != 1 || f.plugins["unknown"].destroyed != 1 {
		t.Error("Expected rejected instances to be destroyed")
	}
}

func TestPipeline_Injection(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", nil)
	p := f.pipeline()
	handshake(t, p)
	inj := f.plugins["a"].inj

	if err := inj.ToClient(protocol.NewMessage(protocol.TypeChat, protocol.Fields{"chat_msg": "hi"})); err != nil {
		t.Fatalf("ToClient failed: %v", err)
	}
	if err := inj.ToServer(protocol.NewMessage(0x04, protocol.Fields{"time": int64(1)})); err == nil {
		t.Error("Expected server-only message to be rejected towards the server")
	}
	if err := inj.InjectRaw(protocol.Upstream, []byte{0x00, 0, 0, 0, 1}); err != nil {
		t.Fatalf("InjectRaw failed: %v", err)
	}

	toClient := p.Outbox(protocol.Downstream).Drain()
	if len(toClient) != 1 || !bytes.Equal(toClient[0], []byte{0x03, 0, 2, 0, 'h', 0, 'i'}) {
		t.Errorf("Unexpected client outbox %x", toClient)
	}
	toServer := p.Outbox(protocol.Upstream).Drain()
	if len(toServer) != 1 || toServer[0][0] != 0x00 {
		t.Errorf("Unexpected server outbox %x", toServer)
	}
}

func TestPipeline_Destroy(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", nil)
	p := f.pipeline()
	handshake(t, p)
	inj := f.plugins["a"].inj

	p.Destroy()
	p.Destroy()

	if f.plugins["a"].destroyed != 1 {
		t.Errorf("Expected one Destroy call, got %d", f.plugins["a"].destroyed)
	}
	err := inj.ToClient(protocol.NewMessage(protocol.TypeChat, protocol.Fields{"chat_msg": "late"}))
	if !errors.Is(err, ErrOutboxClosed) {
		t.Errorf("Expected ErrOutboxClosed, got %v", err)
	}
	if v := p.Filter(context.Background(), chat(t, protocol.Upstream, "x"), protocol.Upstream); v != Forward {
		t.Errorf("Expected Forward after destroy, got %v", v)
	}
}

func TestPipeline_DestroyBeforeHandshake(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", nil)
	p := f.pipeline()
	p.Destroy()

	if len(f.plugins) != 0 {
		t.Error("Expected no instances to be created")
	}
}
