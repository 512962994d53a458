// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"net/rpc"

	hplugin "github.com/hashicorp/go-plugin"
)

// Name is the key the filter is dispensed under.
const Name = "filter"

// Handshake is shared by mc3p and plugin binaries. A binary started by hand
// exits with a message instead of serving.
var Handshake = hplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MC3P_PLUGIN",
	MagicCookieValue: "d1f3c6a2-filter",
}

// InitRequest carries the instance arguments and the negotiated version.
type InitRequest struct {
	Args    string
	Version int32
}

// InitResponse lists the message types the filter wants to see.
// An empty list means every type.
type InitResponse struct {
	Types []byte
}

// Request is one message as it came off the wire.
type Request struct {
	Direction int
	Type      byte
	Raw       []byte
}

// Response is the filter's decision on a Request.
//
// Replace, when set, is written instead of the original message.
// ToClient and ToServer are encoded messages injected after it.
type Response struct {
	Drop     bool
	Replace  []byte
	ToClient [][]byte
	ToServer [][]byte
}

// Filter is implemented by plugin binaries.
type Filter interface {
	Init(req InitRequest) (InitResponse, error)
	Filter(req Request) (Response, error)
	Close() error
}

// FilterPlugin is the go-plugin glue for Filter over net/rpc.
type FilterPlugin struct {
	Impl Filter
}

var _ hplugin.Plugin = (*FilterPlugin)(nil)

func (p *FilterPlugin) Server(*hplugin.MuxBroker) (any, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *FilterPlugin) Client(_ *hplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &RPCClient{client: c}, nil
}

// PluginMap is the plugin set mc3p and its binaries agree on.
func PluginMap(impl Filter) map[string]hplugin.Plugin {
	return map[string]hplugin.Plugin{Name: &FilterPlugin{Impl: impl}}
}

// Serve runs impl as a plugin binary. It blocks until mc3p kills the process.
func Serve(impl Filter) {
	hplugin.Serve(&hplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(impl),
	})
}

// RPCServer exposes a Filter over net/rpc.
type RPCServer struct {
	Impl Filter
}

func (s *RPCServer) Init(req InitRequest, resp *InitResponse) error {
	r, err := s.Impl.Init(req)
	*resp = r
	return err
}

func (s *RPCServer) Filter(req Request, resp *Response) error {
	r, err := s.Impl.Filter(req)
	*resp = r
	return err
}

func (s *RPCServer) Close(_ bool, resp *bool) error {
	*resp = true
	return s.Impl.Close()
}

// RPCClient is a Filter living in another process.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an established net/rpc client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

func (c *RPCClient) Init(req InitRequest) (InitResponse, error) {
	var resp InitResponse
	err := c.client.Call("Plugin.Init", req, &resp)
	return resp, err
}

func (c *RPCClient) Filter(req Request) (Response, error) {
	var resp Response
	err := c.client.Call("Plugin.Filter", req, &resp)
	return resp, err
}

func (c *RPCClient) Close() error {
	var ok bool
	return c.client.Call("Plugin.Close", true, &ok)
}
