// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/rpc"
	"testing"

	"github.com/absmach/mc3p/pkg/parser"
	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

// upperFilter drops keep-alives, replaces chat with a fixed message and
// answers every chat with a kick to the client.
type upperFilter struct {
	args    string
	version int32
	closed  bool
}

func (f *upperFilter) Init(req InitRequest) (InitResponse, error) {
	if req.Args == "fail" {
		return InitResponse{}, errors.New("bad args")
	}
	f.args, f.version = req.Args, req.Version
	return InitResponse{Types: []byte{protocol.TypeKeepAlive, protocol.TypeChat}}, nil
}

func (f *upperFilter) Filter(req Request) (Response, error) {
	switch req.Type {
	case protocol.TypeKeepAlive:
		return Response{Drop: true}, nil
	case protocol.TypeChat:
		return Response{
			Replace:  []byte{protocol.TypeChat, 0, 1, 0, 'X'},
			ToClient: [][]byte{{protocol.TypeDisconnect, 0, 0}},
		}, nil
	}
	return Response{}, errors.New("unexpected type")
}

func (f *upperFilter) Close() error {
	f.closed = true
	return nil
}

type injected struct {
	dir protocol.Direction
	b   []byte
}

type fakeInjector struct {
	raw []injected
}

func (i *fakeInjector) ToClient(msg *protocol.Message) error { return nil }
func (i *fakeInjector) ToServer(msg *protocol.Message) error { return nil }
func (i *fakeInjector) Version() int32                       { return 21 }
func (i *fakeInjector) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (i *fakeInjector) InjectRaw(dir protocol.Direction, b []byte) error {
	i.raw = append(i.raw, injected{dir: dir, b: b})
	return nil
}

func pipeClient(t *testing.T, impl Filter) *RPCClient {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("Plugin", &RPCServer{Impl: impl}); err != nil {
		t.Fatalf("RegisterName failed: %v", err)
	}
	a, b := net.Pipe()
	go server.ServeConn(a)
	c := rpc.NewClient(b)
	t.Cleanup(func() { c.Close() })
	return NewRPCClient(c)
}

func message(t *testing.T, typ byte, raw []byte) *protocol.Message {
	t.Helper()
	table, _ := protocol.Lookup(21)
	c := protocol.NewCursor()
	c.Append(raw)
	msg, err := parser.ParsePacket(c, table, protocol.Upstream)
	if err != nil {
		t.Fatalf("ParsePacket 0x%02x failed: %v", typ, err)
	}
	return msg
}

func TestRPC_RoundTrip(t *testing.T) {
	impl := &upperFilter{}
	c := pipeClient(t, impl)

	resp, err := c.Init(InitRequest{Args: "a b", Version: 21})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !bytes.Equal(resp.Types, []byte{protocol.TypeKeepAlive, protocol.TypeChat}) {
		t.Errorf("Expected types from Init, got %v", resp.Types)
	}
	if impl.args != "a b" || impl.version != 21 {
		t.Errorf("Expected args and version to reach the filter, got %q %d", impl.args, impl.version)
	}

	r, err := c.Filter(Request{Type: protocol.TypeKeepAlive})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if !r.Drop {
		t.Error("Expected keep-alive dropped")
	}

	if _, err := c.Filter(Request{Type: 0x42}); err == nil {
		t.Error("Expected filter error to cross the connection")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !impl.closed {
		t.Error("Expected filter closed")
	}
}

func newPlugin(t *testing.T, impl Filter, inj *fakeInjector) (*Plugin, *bool) {
	t.Helper()
	killed := false
	p := New(inj).(*Plugin)
	p.launch = func(path string, _ *slog.Logger) (Filter, func(), error) {
		if path != "/bin/filter" {
			t.Errorf("Expected /bin/filter launched, got %q", path)
		}
		return pipeClient(t, impl), func() { killed = true }, nil
	}
	return p, &killed
}

func TestPlugin_Init(t *testing.T) {
	cases := []struct {
		name    string
		args    string
		wantErr bool
		killed  bool
	}{
		{"no binary", "  ", true, false},
		{"init error kills process", "/bin/filter fail", true, true},
		{"ok", "/bin/filter  x y ", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			impl := &upperFilter{}
			p, killed := newPlugin(t, impl, &fakeInjector{})

			err := p.Init(tc.args)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Init(%q) error = %v, wantErr %v", tc.args, err, tc.wantErr)
			}
			if *killed != tc.killed {
				t.Errorf("Expected killed=%v, got %v", tc.killed, *killed)
			}
			if !tc.wantErr && impl.args != "x y" {
				t.Errorf("Expected args \"x y\", got %q", impl.args)
			}
		})
	}

	if err := New(&fakeInjector{}).Init(""); !errors.Is(err, plugin.ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
}

func TestPlugin_HandleMessage(t *testing.T) {
	inj := &fakeInjector{}
	impl := &upperFilter{}
	p, killed := newPlugin(t, impl, inj)
	if err := p.Init("/bin/filter"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ctx := context.Background()

	v, err := p.HandleMessage(ctx, message(t, protocol.TypeKeepAlive, []byte{0, 0, 0, 0, 1}), protocol.Upstream)
	if err != nil || v != plugin.Drop {
		t.Errorf("Expected keep-alive dropped, got %v %v", v, err)
	}

	// Handshake is not in the filter's types and never crosses the connection.
	hs := message(t, protocol.TypeHandshake, []byte{protocol.TypeHandshake, 0, 1, 0, 'a'})
	if v, err := p.HandleMessage(ctx, hs, protocol.Upstream); err != nil || v != plugin.Forward {
		t.Errorf("Expected handshake forwarded, got %v %v", v, err)
	}

	v, err = p.HandleMessage(ctx, message(t, protocol.TypeChat, []byte{protocol.TypeChat, 0, 1, 0, 'a'}), protocol.Upstream)
	if err != nil || v != plugin.Drop {
		t.Fatalf("Expected replaced chat dropped, got %v %v", v, err)
	}
	want := []injected{
		{protocol.Upstream, []byte{protocol.TypeChat, 0, 1, 0, 'X'}},
		{protocol.Downstream, []byte{protocol.TypeDisconnect, 0, 0}},
	}
	if len(inj.raw) != len(want) {
		t.Fatalf("Expected %d injections, got %d", len(want), len(inj.raw))
	}
	for i, w := range want {
		if inj.raw[i].dir != w.dir || !bytes.Equal(inj.raw[i].b, w.b) {
			t.Errorf("Injection %d = %v %x, want %v %x", i, inj.raw[i].dir, inj.raw[i].b, w.dir, w.b)
		}
	}

	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if !*killed || !impl.closed {
		t.Error("Expected filter closed and process killed")
	}
	if err := p.Destroy(); err != nil {
		t.Errorf("Expected second Destroy to be a no-op, got %v", err)
	}
}

func TestPlugin_ReplayIgnoresReplace(t *testing.T) {
	inj := &fakeInjector{}
	p, _ := newPlugin(t, &upperFilter{}, inj)
	if err := p.Init("/bin/filter"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer p.Destroy()

	ctx := plugin.WithReplay(context.Background())
	v, err := p.HandleMessage(ctx, message(t, protocol.TypeChat, []byte{protocol.TypeChat, 0, 1, 0, 'a'}), protocol.Upstream)
	if err != nil || v != plugin.Forward {
		t.Fatalf("Expected replayed chat forwarded, got %v %v", v, err)
	}
	if len(inj.raw) != 1 || inj.raw[0].dir != protocol.Downstream {
		t.Errorf("Expected only the client injection, got %v", inj.raw)
	}
}
