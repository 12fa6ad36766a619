/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
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
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/profiling"
	"github.com/yorkie-team/wardroom/pkg/profiling/prometheus"
	"github.com/yorkie-team/wardroom/pkg/realtime/memory"
	"github.com/yorkie-team/wardroom/pkg/realtime/websocket"
)

const (
	defaultRelayPort = 8090
	relayPath        = "/realtime"
)

var gracefulTimeout = 10 * time.Second

func newRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay [options]",
		Short: "Start a development relay serving change streams and presence over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New("relay")
			hub := memory.NewHub(memory.WithLogger(logger))
			handler := websocket.NewHandler(hub, websocket.WithAnyOrigin())

			mux := http.NewServeMux()
			mux.Handle(relayPath, handler)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", viper.GetInt("port")),
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			listener, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen relay %s: %w", srv.Addr, err)
			}
			go func() {
				logger.Infof("serving relay on %s%s", srv.Addr, relayPath)
				if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP server Serve: %v", err)
				}
			}()

			profilingServer, err := startProfiling(nil)
			if err != nil {
				return err
			}

			waitForSignal()

			ctx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
			defer cancel()

			dropped := handler.Disconnect()
			logger.Infof("relay shutting down, dropped %d connections", dropped)
			if profilingServer != nil {
				if err := profilingServer.Shutdown(ctx); err != nil {
					logger.Warnw("shutdown profiling", "error", err)
				}
			}
			return srv.Shutdown(ctx)
		},
	}
}

// startProfiling starts the profiling server if a profiling port is given.
// A nil metrics is replaced by a fresh registry.
func startProfiling(metrics *prometheus.Metrics) (*profiling.Server, error) {
	port := viper.GetInt("profiling-port")
	if port == 0 {
		return nil, nil
	}

	conf := &profiling.Config{Port: port, EnablePprof: viper.GetBool("enable-pprof")}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if metrics == nil {
		var err error
		if metrics, err = prometheus.NewMetrics(); err != nil {
			return nil, err
		}
	}

	server := profiling.NewServer(conf, metrics)
	if err := server.Start(); err != nil {
		return nil, err
	}
	return server, nil
}

func waitForSignal() os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return <-sigCh
}

func addProfilingFlags(cmd *cobra.Command) {
	cmd.Flags().Int(
		"profiling-port",
		0,
		"Profiling port serving metrics, 0 disables it",
	)
	cmd.Flags().Bool(
		"enable-pprof",
		false,
		"Enable runtime profiling data via HTTP server.",
	)
}

func init() {
	cmd := newRelayCmd()
	cmd.Flags().Int(
		"port",
		defaultRelayPort,
		"Relay port",
	)
	addProfilingFlags(cmd)

	rootCmd.AddCommand(cmd)
}
