/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aklivity/zilla-sub038/pkg/config"
	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/frame"
	"github.com/aklivity/zilla-sub038/pkg/ringbuffer"
	"github.com/aklivity/zilla-sub038/pkg/shm"
)

const dumpReadLimit = 64

var cmdDump = cli.Command{
	Name:  "dump",
	Usage: "follow the frames delivered on the rings of a running engine",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:   "dir, d",
			Usage:  "shared memory directory of the engine",
			EnvVar: "DATAPLANE_SHM_DIR",
		}, cli.StringSliceFlag{
			Name:  "ring, r",
			Usage: "ring to follow, e.g. ring-0-1, all rings when omitted",
		}, cli.StringFlag{
			Name:  "format, f",
			Usage: "output format: text, json or msgpack",
			Value: "text",
		}, cli.IntFlag{
			Name:  "count, n",
			Usage: "stop after `N` frames, 0 follows until interrupted",
		},
	},
	Action: func(c *cli.Context) error {
		dir := c.String("dir")
		if dir == "" {
			return cli.NewExitError("dump needs the shared memory directory (--dir)", 1)
		}
		names := c.StringSlice("ring")
		if len(names) == 0 {
			found, err := ringNames(dir)
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			names = found
		}
		d, err := newDumper(c.String("format"), os.Stdout)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := dumpRings(ctx, d, dir, names, c.Int("count")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	},
}

// ringNames lists the rings mapped under dir.
func ringNames(dir string) ([]string, error) {
	paths, err := filepath.Glob(shm.Path(dir, "ring-*"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no rings under %s", dir)
	}
	prefix := strings.TrimSuffix(filepath.Base(shm.Path(dir, "x")), "x")
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimPrefix(filepath.Base(p), prefix))
	}
	return names, nil
}

func dumpRings(ctx context.Context, d *dumper, dir string, names []string, count int) error {
	type follower struct {
		name string
		span *shm.ShmSpan
		spy  *ringbuffer.Spy
	}
	var followers []follower
	defer func() {
		for _, f := range followers {
			f.spy.Close()
			shm.DeAlloc(f.span)
		}
	}()
	for _, name := range names {
		span, err := shm.Attach(dir, name)
		if err != nil {
			return errors.Wrapf(err, "attach %s", name)
		}
		rb, err := ringbuffer.Wrap(name, span.Origin(), true)
		if err != nil {
			shm.DeAlloc(span)
			return err
		}
		followers = append(followers, follower{name: name, span: span, spy: rb.Spy(ringbuffer.SpyFromTail)})
	}

	idle := engine.NewBackoffIdle(config.DefaultSpins, config.DefaultYields, config.DefaultMinPark, config.DefaultMaxPark)
	for ctx.Err() == nil {
		work := 0
		for _, f := range followers {
			n, err := f.spy.Read(d.handler(f.name), dumpReadLimit)
			if err != nil {
				return err
			}
			work += n
		}
		if d.err != nil {
			return d.err
		}
		if count > 0 && d.frames >= count {
			return nil
		}
		idle.Idle(work)
	}
	return nil
}

// record is one dumped frame.
type record struct {
	Ring  string      `json:"ring" msgpack:"ring"`
	Kind  string      `json:"kind" msgpack:"kind"`
	Frame frame.Frame `json:"frame,omitempty" msgpack:"frame,omitempty"`
	Error string      `json:"error,omitempty" msgpack:"error,omitempty"`
}

type dumper struct {
	out    io.Writer
	encode func(r *record) error
	frames int
	err    error
}

func newDumper(format string, out io.Writer) (*dumper, error) {
	d := &dumper{out: out}
	switch format {
	case "", "text":
		d.encode = d.text
	case "json":
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		d.encode = func(r *record) error { return enc.Encode(r) }
	case "msgpack":
		enc := msgpack.NewEncoder(out)
		enc.SetCustomStructTag("json")
		d.encode = func(r *record) error { return enc.Encode(r) }
	default:
		return nil, fmt.Errorf("unknown dump format %q", format)
	}
	return d, nil
}

func (d *dumper) handler(ring string) ringbuffer.Handler {
	return func(typeID int32, buffer []byte, index int, length int) {
		if d.err != nil {
			return
		}
		r := record{Ring: ring, Kind: frame.Name(typeID)}
		f, err := frame.Decode(typeID, buffer, index, index+length)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Frame = f
		}
		d.frames++
		d.err = d.encode(&r)
	}
}

func (d *dumper) text(r *record) error {
	if r.Frame == nil {
		_, err := fmt.Fprintf(d.out, "%s %s malformed: %s\n", r.Ring, r.Kind, r.Error)
		return err
	}
	h := r.Frame.FrameHeader()
	_, err := fmt.Fprintf(d.out, "%s %s stream=0x%016x seq=%d ack=%d max=%d trace=0x%x budget=0x%x%s\n",
		r.Ring, r.Kind, uint64(h.StreamID), h.Sequence, h.Acknowledge, h.Maximum, uint64(h.TraceID), uint64(h.BudgetID), detail(r.Frame))
	return err
}

func detail(f frame.Frame) string {
	switch v := f.(type) {
	case *frame.Begin:
		return fmt.Sprintf(" origin=0x%x routed=0x%x affinity=0x%x", uint64(v.OriginID), uint64(v.RoutedID), uint64(v.Affinity))
	case *frame.Data:
		return fmt.Sprintf(" flags=0x%02x reserved=%d length=%d", v.Flags, v.Reserved, len(v.Payload))
	case *frame.Window:
		return fmt.Sprintf(" padding=%d minimum=%d capabilities=0x%02x", v.Padding, v.Minimum, v.Capabilities)
	case *frame.Signal:
		return fmt.Sprintf(" cancel=0x%x signal=%d context=%d", uint64(v.CancelID), v.SignalID, v.ContextID)
	}
	return ""
}
