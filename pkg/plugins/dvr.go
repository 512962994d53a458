// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

// DVR records messages to capture files for later playback.
//
// Arguments: [-c IDS] [-s IDS] CAPFILE, where IDS is a comma separated list
// of message types (decimal or 0x hex) or * for every type. -c selects
// messages from the client, written to CAPFILE.cli; -s selects messages from
// the server, written to CAPFILE.srv. Disconnects are always recorded.
//
// Each record is the message size as a little-endian uint32, the seconds
// since the plugin started as a little-endian float32, and the message bytes.
type DVR struct {
	logger *slog.Logger
	now    func() time.Time
	t0     time.Time
	files  [2]*capture
}

type capture struct {
	all   bool
	types map[byte]bool
	f     *os.File
	w     *bufio.Writer
}

// NewDVR creates a plugin recording selected messages to capture files.
func NewDVR(inj plugin.Injector) plugin.Plugin {
	return &DVR{logger: inj.Logger(), now: time.Now}
}

func (d *DVR) Init(args string) error {
	fs := flag.NewFlagSet("dvr", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cli := fs.String("c", "", "comma separated client message types")
	srv := fs.String("s", "", "comma separated server message types")
	if err := fs.Parse(strings.Fields(args)); err != nil {
		return fmt.Errorf("%w: %w", plugin.ErrConfig, err)
	}
	switch fs.NArg() {
	case 0:
		return fmt.Errorf("%w: missing capture file", plugin.ErrConfig)
	case 1:
	default:
		return fmt.Errorf("%w: unexpected arguments %q", plugin.ErrConfig, fs.Args()[1:])
	}
	if *cli == "" && *srv == "" {
		return fmt.Errorf("%w: must supply either -c or -s", plugin.ErrConfig)
	}

	capfile := fs.Arg(0)
	var err error
	if d.files[protocol.Upstream], err = openCapture(capfile+".cli", *cli); err != nil {
		return err
	}
	if d.files[protocol.Downstream], err = openCapture(capfile+".srv", *srv); err != nil {
		d.files[protocol.Upstream].close()
		d.files[protocol.Upstream] = nil
		return err
	}

	d.t0 = d.now()
	d.logger.Info("dvr recording", slog.String("file", capfile), slog.String("client", *cli), slog.String("server", *srv))
	return nil
}

func openCapture(path, ids string) (*capture, error) {
	c := &capture{types: map[byte]bool{protocol.TypeDisconnect: true}}
	if ids == "*" {
		c.all = true
	} else if ids != "" {
		for _, s := range strings.Split(ids, ",") {
			typ, err := messageType(s)
			if err != nil {
				return nil, err
			}
			c.types[typ] = true
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c.f, c.w = f, bufio.NewWriter(f)
	return c, nil
}

func messageType(s string) (byte, error) {
	s = strings.TrimSpace(s)
	base := 10
	if h, ok := strings.CutPrefix(s, "0x"); ok {
		s, base = h, 16
	}
	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message type %q", plugin.ErrConfig, s)
	}
	return byte(v), nil
}

func (d *DVR) HandleMessage(_ context.Context, msg *protocol.Message, dir protocol.Direction) (plugin.Verdict, error) {
	c := d.files[dir]
	if c == nil || !(c.all || c.types[msg.Type]) {
		return plugin.Forward, nil
	}
	b := msg.Raw()
	if b == nil {
		var err error
		if b, err = msg.Bytes(); err != nil {
			return plugin.Forward, err
		}
	}

	t := float32(d.now().Sub(d.t0).Seconds())
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(b)))
	binary.LittleEndian.PutUint32(hdr[4:], math.Float32bits(t))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return plugin.Forward, err
	}
	if _, err := c.w.Write(b); err != nil {
		return plugin.Forward, err
	}
	d.logger.Debug("recorded message",
		slog.Float64("t", float64(t)),
		slog.String("type", fmt.Sprintf("0x%02x", msg.Type)),
		slog.Int("size", len(b)))
	return plugin.Forward, nil
}

func (d *DVR) Destroy() error {
	var errs []error
	for i, c := range d.files {
		if c != nil {
			errs = append(errs, c.close())
			d.files[i] = nil
		}
	}
	return errors.Join(errs...)
}

func (c *capture) close() error {
	return errors.Join(c.w.Flush(), c.f.Close())
}
