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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/aklivity/zilla-sub038/pkg/admin"
	"github.com/aklivity/zilla-sub038/pkg/config"
	"github.com/aklivity/zilla-sub038/pkg/engine"
	"github.com/aklivity/zilla-sub038/pkg/log"
	"github.com/aklivity/zilla-sub038/pkg/metrics/sink/prometheus"
)

const adminShutdownTimeout = 3 * time.Second

var (
	flagToLogLevel = map[string]string{
		"trace":    "TRACE",
		"debug":    "DEBUG",
		"info":     "INFO",
		"warning":  "WARN",
		"error":    "ERROR",
		"critical": "FATAL",
	}

	cmdStart = cli.Command{
		Name:  "start",
		Usage: "start the dataplane engine",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   "config, c",
				Usage:  "Load configuration from `FILE`",
				EnvVar: "DATAPLANE_CONFIG",
				Value:  "configs/engine.yaml",
			}, cli.StringFlag{
				Name:  "log-level, l",
				Usage: "overrides the configured level: trace, debug, info, warning, error, critical",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			if lv, ok := flagToLogLevel[c.String("log-level")]; ok {
				cfg.Log.Level = lv
			}
			if err := start(cfg); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			return nil
		},
	}
)

func start(cfg *config.EngineConfig) error {
	if err := log.InitDefaultLogger(cfg.Log.Output, log.ParseLevel(cfg.Log.Level)); err != nil {
		return errors.Wrap(err, "init logger")
	}
	undo, err := maxprocs.Set(maxprocs.Logger(log.DefaultLogger.Infof))
	if err != nil {
		log.DefaultLogger.Warnf("[dataplane] set GOMAXPROCS failed: %v", err)
	}
	defer undo()

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.DefaultLogger.Errorf("[dataplane] close engine: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cfg.Metrics.Prometheus; addr != "" {
		srv := serveMetrics(e, addr, cfg.Metrics.Endpoint)
		defer srv.Close()
	}
	if addr := cfg.Admin.Address; addr != "" {
		srv := admin.NewServer(e)
		if err := srv.Start(addr); err != nil {
			return errors.Wrap(err, "start admin api")
		}
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			srv.Close(shutdown)
		}()
	}

	log.DefaultLogger.Infof("[dataplane] started %d workers with %d bindings", len(e.Workers()), len(cfg.Bindings))
	if err := e.Run(ctx); err != nil {
		log.DefaultLogger.Errorf("[dataplane] engine stopped: %v", err)
		return err
	}
	log.DefaultLogger.Infof("[dataplane] stopped")
	return nil
}

func serveMetrics(e *engine.Engine, addr string, endpoint string) *http.Server {
	sink := prometheus.NewSink(e.Store(), prometheus.Config{Endpoint: endpoint})
	srv := &http.Server{Addr: addr, Handler: sink.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.DefaultLogger.Errorf("[dataplane] metrics listener %s: %v", addr, err)
		}
	}()
	log.DefaultLogger.Infof("[dataplane] serving metrics on %s", addr)
	return srv
}
