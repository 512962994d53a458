// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/absmach/mc3p/pkg/protocol"
)

type buffered struct {
	msg *protocol.Message
	dir protocol.Direction
}

type instance struct {
	id       string
	name     string
	plugin   Plugin
	def      DefaultHandler
	handlers map[byte]HandlerFunc
	logger   *slog.Logger
}

// Pipeline runs the messages of one session through its plugin instances.
//
// Plugins are instantiated once the server accepts the login, because the
// negotiated version decides the message layouts they see. Messages seen
// before that are forwarded and then replayed to the new instances.
// Filter is safe to call from both relays.
type Pipeline struct {
	mu        sync.Mutex
	config    *Config
	registry  *Registry
	logger    *slog.Logger
	active    atomic.Bool
	destroyed bool
	version   int32
	table     atomic.Pointer[protocol.Table]
	buffer    []buffered
	instances map[string]*instance

	toClient *Outbox
	toServer *Outbox
}

// NewPipeline creates a pipeline for one session.
func NewPipeline(cfg *Config, reg *Registry, logger *slog.Logger) *Pipeline {
	if cfg == nil {
		cfg = NewConfig()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		config:    cfg,
		registry:  reg,
		logger:    logger,
		instances: make(map[string]*instance),
		toClient:  NewOutbox(),
		toServer:  NewOutbox(),
	}
	p.table.Store(protocol.Base())
	return p
}

// Active reports whether the handshake completed and plugins were instantiated.
func (p *Pipeline) Active() bool {
	return p.active.Load()
}

// Outbox returns the queue of injected messages flowing in direction dir.
func (p *Pipeline) Outbox(dir protocol.Direction) *Outbox {
	if dir == protocol.Upstream {
		return p.toServer
	}
	return p.toClient
}

// Instances returns the ids of the loaded instances.
func (p *Pipeline) Instances() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for _, id := range p.config.IDs() {
		if _, ok := p.instances[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Filter runs msg through the plugins and decides whether it is forwarded.
func (p *Pipeline) Filter(ctx context.Context, msg *protocol.Message, dir protocol.Direction) Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return Forward
	}
	if p.active.Load() {
		return p.run(ctx, msg, dir)
	}

	p.buffer = append(p.buffer, buffered{msg: msg.Clone(), dir: dir})
	if msg.Type != protocol.TypeLogin {
		return Forward
	}
	if dir == protocol.Upstream {
		if v, ok := msg.Int(protocol.VersionField); ok {
			p.version = int32(v)
			p.logger.Debug("Detected protocol version", slog.Int("version", int(v)))
		}
		return Forward
	}

	p.logger.Info("Handshake completed, loading plugins", slog.Int("version", int(p.version)))
	p.activate()
	// Replayed messages were already forwarded; verdicts are ignored.
	rctx := WithReplay(ctx)
	for _, b := range p.buffer {
		p.run(rctx, b.msg, b.dir)
	}
	p.buffer = nil
	return Forward
}

func (p *Pipeline) activate() {
	if t, ok := protocol.Lookup(p.version); ok {
		p.table.Store(t)
	} else {
		p.logger.Warn("Unknown protocol version for plugins", slog.Int("version", int(p.version)))
	}
	for _, id := range p.config.IDs() {
		inst, err := p.load(id)
		if err != nil {
			p.logger.Error("Failed to instantiate plugin",
				slog.String("plugin", id),
				slog.String("name", p.config.Name(id)),
				slog.Any("error", err))
			continue
		}
		p.instances[id] = inst
	}
	p.active.Store(true)
}

func (p *Pipeline) load(id string) (inst *instance, err error) {
	name := p.config.Name(id)
	factory, err := p.registry.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	logger := p.logger.With(slog.String("plugin", id), slog.String("name", name))
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("%w: panic: %v", ErrLoad, r)
		}
	}()

	pl := factory(&injector{p: p, id: id, logger: logger})
	if pl == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", ErrLoad, name)
	}
	if err := pl.Init(p.config.Args(id)); err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrLoad, err)
	}

	inst = &instance{
		id:       id,
		name:     name,
		plugin:   pl,
		handlers: make(map[byte]HandlerFunc),
		logger:   logger,
	}
	if dh, ok := pl.(DefaultHandler); ok {
		inst.def = dh
	}
	if b, ok := pl.(Binder); ok {
		if err := inst.bind(b.Bindings(), p.table.Load()); err != nil {
			if derr := pl.Destroy(); derr != nil {
				logger.Warn("Failed to destroy rejected plugin", slog.Any("error", derr))
			}
			return nil, err
		}
	}
	return inst, nil
}

func (inst *instance) bind(bindings []Binding, table *protocol.Table) error {
	for _, b := range bindings {
		for _, typ := range b.Types {
			if _, ok := inst.handlers[typ]; ok {
				return fmt.Errorf("%w: multiple handlers for 0x%02x", ErrLoad, typ)
			}
			if !table.Known(typ) {
				return fmt.Errorf("%w: unrecognized message type 0x%02x", ErrLoad, typ)
			}
			inst.handlers[typ] = b.Handle
		}
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, msg *protocol.Message, dir protocol.Direction) Verdict {
	for _, id := range p.config.Ordering(msg.Type) {
		inst, ok := p.instances[id]
		if !ok {
			continue
		}
		if inst.filter(ctx, msg, dir) == Drop {
			return Drop
		}
	}
	return Forward
}

func (inst *instance) filter(ctx context.Context, msg *protocol.Message, dir protocol.Direction) Verdict {
	if inst.def != nil {
		v, err := inst.call(ctx, inst.def.HandleMessage, msg, dir)
		if err != nil {
			inst.logger.Error("Error in default handler",
				slog.String("type", fmt.Sprintf("0x%02x", msg.Type)),
				slog.Any("error", err))
			return Forward
		}
		if v == Drop {
			return Drop
		}
	}

	h, ok := inst.handlers[msg.Type]
	if !ok {
		return Forward
	}
	v, err := inst.call(ctx, h, msg, dir)
	if err != nil {
		inst.logger.Error("Error in message handler",
			slog.String("type", fmt.Sprintf("0x%02x", msg.Type)),
			slog.Any("error", err))
		return Forward
	}
	return v
}

func (inst *instance) call(ctx context.Context, h HandlerFunc, msg *protocol.Message, dir protocol.Direction) (v Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = Forward, fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, msg, dir)
}

// Destroy tears down every instance and closes both outboxes.
// Calling it more than once is a no-op.
func (p *Pipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	p.destroyed = true

	if len(p.instances) > 0 {
		p.logger.Info("Destroying plugin instances")
	}
	for _, id := range p.config.IDs() {
		inst, ok := p.instances[id]
		if !ok {
			continue
		}
		if err := inst.destroy(); err != nil {
			inst.logger.Error("Error cleaning up plugin instance", slog.Any("error", err))
		}
	}
	p.instances = map[string]*instance{}
	p.buffer = nil
	p.toClient.Close()
	p.toServer.Close()
}

func (inst *instance) destroy() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return inst.plugin.Destroy()
}

type injector struct {
	p      *Pipeline
	id     string
	logger *slog.Logger
}

func (inj *injector) ToClient(msg *protocol.Message) error {
	return inj.inject(protocol.Downstream, msg)
}

func (inj *injector) ToServer(msg *protocol.Message) error {
	return inj.inject(protocol.Upstream, msg)
}

func (inj *injector) inject(dir protocol.Direction, msg *protocol.Message) error {
	if msg == nil {
		err := errors.New("nil message")
		inj.logger.Error("Plugin tried to send an invalid message", slog.Any("error", err))
		return err
	}
	b, err := inj.p.table.Load().Encode(dir, msg)
	if err != nil {
		inj.logger.Error("Plugin tried to send an invalid message",
			slog.String("type", fmt.Sprintf("0x%02x", msg.Type)),
			slog.String("dir", dir.String()),
			slog.Any("error", err))
		return err
	}
	return inj.p.Outbox(dir).Put(b)
}

func (inj *injector) InjectRaw(dir protocol.Direction, b []byte) error {
	return inj.p.Outbox(dir).Put(append([]byte(nil), b...))
}

func (inj *injector) Version() int32 {
	return inj.p.table.Load().Version
}

func (inj *injector) Logger() *slog.Logger {
	return inj.logger
}
