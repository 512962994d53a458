// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
	"github.com/hashicorp/go-hclog"
	hplugin "github.com/hashicorp/go-plugin"
)

// ErrNoBinary is returned when the arguments name no plugin binary.
var ErrNoBinary = errors.New("missing plugin binary path")

type launcher func(path string, logger *slog.Logger) (Filter, func(), error)

// Plugin runs the messages of a session through a Filter served by a
// subprocess. Its arguments are "PATH [ARGS...]"; ARGS are handed to the
// filter's Init.
//
// A replaced message is dropped and its replacement injected in its place,
// so plugins ordered after this one do not see it.
type Plugin struct {
	inj    plugin.Injector
	launch launcher
	filter Filter
	kill   func()
	types  map[byte]bool
}

var (
	_ plugin.Plugin         = (*Plugin)(nil)
	_ plugin.DefaultHandler = (*Plugin)(nil)
)

// New is the plugin.Factory of the external plugin.
func New(inj plugin.Injector) plugin.Plugin {
	return &Plugin{inj: inj, launch: launch}
}

func (p *Plugin) Init(args string) error {
	path, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	if path == "" {
		return fmt.Errorf("%w: %w", plugin.ErrConfig, ErrNoBinary)
	}

	f, kill, err := p.launch(path, p.inj.Logger())
	if err != nil {
		return fmt.Errorf("launch %s: %w", path, err)
	}
	resp, err := f.Init(InitRequest{Args: strings.TrimSpace(rest), Version: p.inj.Version()})
	if err != nil {
		kill()
		return fmt.Errorf("init %s: %w", path, err)
	}

	p.filter, p.kill = f, kill
	if len(resp.Types) > 0 {
		p.types = make(map[byte]bool, len(resp.Types))
		for _, t := range resp.Types {
			p.types[t] = true
		}
	}
	p.inj.Logger().Info("External plugin started", slog.String("path", path), slog.Int("types", len(resp.Types)))
	return nil
}

// HandleMessage sends msg to the plugin process and applies its response.
// Replacements of replayed handshake messages are ignored since the
// original was already forwarded.
func (p *Plugin) HandleMessage(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (plugin.Verdict, error) {
	if p.types != nil && !p.types[msg.Type] {
		return plugin.Forward, nil
	}
	raw, err := msg.Bytes()
	if err != nil {
		return plugin.Forward, err
	}
	resp, err := p.filter.Filter(Request{Direction: int(dir), Type: msg.Type, Raw: raw})
	if err != nil {
		return plugin.Forward, err
	}

	verdict := plugin.Forward
	switch {
	case resp.Drop:
		verdict = plugin.Drop
	case resp.Replace != nil && !bytes.Equal(resp.Replace, raw) && !plugin.IsReplay(ctx):
		if err := p.inj.InjectRaw(dir, resp.Replace); err != nil {
			return plugin.Forward, err
		}
		verdict = plugin.Drop
	}

	for _, b := range resp.ToClient {
		if err := p.inj.InjectRaw(protocol.Downstream, b); err != nil {
			return verdict, err
		}
	}
	for _, b := range resp.ToServer {
		if err := p.inj.InjectRaw(protocol.Upstream, b); err != nil {
			return verdict, err
		}
	}
	return verdict, nil
}

func (p *Plugin) Destroy() error {
	if p.filter == nil {
		return nil
	}
	err := p.filter.Close()
	p.kill()
	p.filter = nil
	return err
}

func launch(path string, logger *slog.Logger) (Filter, func(), error) {
	client := hplugin.NewClient(&hplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap(nil),
		Cmd:              exec.Command(path),
		AllowedProtocols: []hplugin.Protocol{hplugin.ProtocolNetRPC},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "external",
			Level:  hclog.Info,
			Output: logWriter{logger: logger},
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to get RPC client: %w", err)
	}
	raw, err := rpcClient.Dispense(Name)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}
	f, ok := raw.(Filter)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("unexpected plugin type %T", raw)
	}
	return f, client.Kill, nil
}

// logWriter forwards go-plugin's log lines to the session logger.
type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(b []byte) (int, error) {
	if line := strings.TrimSpace(string(b)); line != "" {
		w.logger.Debug(line)
	}
	return len(b), nil
}
