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
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/client"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
)

var errReadOnly = errors.FailedPrecond("watch sessions are read only").WithCode("ErrReadOnly")

// readOnlyEndpoint rejects every mutation. It is used when no record API
// is configured.
type readOnlyEndpoint struct{}

func (readOnlyEndpoint) Mutate(context.Context, optimistic.Request) error {
	return errReadOnly
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [options]",
		Short: "Join a workspace and print its roster and change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			user := viper.GetString("user")
			if workspace == "" || user == "" {
				return fmt.Errorf("--workspace and --user are required")
			}

			conf, err := loadWatchConfig()
			if err != nil {
				return err
			}

			opts := []client.Option{
				client.WithNotificationHandler(func(n types.Notification) {
					cmd.Printf("NOTIFICATION [%s] %s: %s\n", n.Severity, n.Title, n.Message)
				}),
			}
			if conf.API.BaseURL == "" {
				opts = append(opts, client.WithEndpoint(readOnlyEndpoint{}))
			}

			cli, err := client.New(conf, opts...)
			if err != nil {
				return err
			}
			printEvents(cmd, cli)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := cli.Open(ctx, types.PresenceState{
				UserID:  user,
				ScopeID: workspace,
				Name:    viper.GetString("name"),
			}); err != nil {
				return err
			}

			profilingServer, err := startProfiling(cli.Metrics())
			if err != nil {
				return err
			}

			ticker := time.NewTicker(viper.GetDuration("refresh"))
			defer ticker.Stop()
			for done := false; !done; {
				select {
				case <-ctx.Done():
					done = true
				case <-ticker.C:
					cmd.Printf("%s\n", renderRoster(cli))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
			defer cancel()
			if profilingServer != nil {
				if err := profilingServer.Shutdown(shutdownCtx); err != nil {
					cmd.PrintErrf("shutdown profiling: %v\n", err)
				}
			}
			return cli.Close(shutdownCtx)
		},
	}
}

// loadWatchConfig builds the client config from flags. If a config file is
// given, it overwrites the flags.
func loadWatchConfig() (*client.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return client.NewConfigFromFile(path)
	}

	conf := client.NewConfig()
	conf.Realtime.URL = viper.GetString("relay-url")
	conf.API.BaseURL = viper.GetString("api-url")
	conf.API.Token = viper.GetString("api-token")
	if severity := viper.GetString("min-severity"); severity != "" {
		conf.Notifications.MinSeverity = severity
	}
	return conf, nil
}

func printEvents(cmd *cobra.Command, cli *client.Client) {
	patients := cli.Patients().Reconciler()
	patients.OnInsert(func(p types.Patient) error {
		cmd.Printf("patient %s admitted: %s %s\n", p.ID, p.Name, p.Bed)
		return nil
	})
	patients.OnUpdate(func(p types.Patient) error {
		cmd.Printf("patient %s updated: %s %s\n", p.ID, p.Name, p.Bed)
		return nil
	})
	patients.OnDelete(func(id string) error {
		cmd.Printf("patient %s removed\n", id)
		return nil
	})

	notes := cli.Notes().Reconciler()
	notes.OnInsert(func(n types.Note) error {
		cmd.Printf("note %s on %s by %s\n", n.ID, n.PatientID, n.AuthorID)
		return nil
	})
	notes.OnDelete(func(id string) error {
		cmd.Printf("note %s removed\n", id)
		return nil
	})
}

func renderRoster(cli *client.Client) string {
	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(table.Row{
		"USER",
		"NAME",
		"STATUS",
		"VIEWING",
		"ONLINE FOR",
	})
	for _, state := range cli.Presence().Users() {
		tw.AppendRow(table.Row{
			state.UserID,
			state.Name,
			state.Status,
			state.ViewingEntityID,
			time.Since(state.OnlineAt).Round(time.Second),
		})
	}
	tw.AppendFooter(table.Row{
		"",
		"",
		cli.Presence().Status(),
		"",
		fmt.Sprintf("%d pending", len(cli.Patients().Pending())+len(cli.Notes().Pending())),
	})
	return tw.Render()
}

func init() {
	cmd := newWatchCmd()
	cmd.Flags().StringP(
		"config",
		"c",
		"",
		"Config path",
	)
	cmd.Flags().String(
		"relay-url",
		fmt.Sprintf("ws://localhost:%d%s", defaultRelayPort, relayPath),
		"Websocket URL of the relay",
	)
	cmd.Flags().String(
		"api-url",
		"",
		"Base URL of the record API, empty for a read only session",
	)
	cmd.Flags().String(
		"api-token",
		"",
		"Bearer token of the record API",
	)
	cmd.Flags().String(
		"workspace",
		"",
		"Workspace to join",
	)
	cmd.Flags().String(
		"user",
		"",
		"User to join as",
	)
	cmd.Flags().String(
		"name",
		"",
		"Display name shared with the workspace",
	)
	cmd.Flags().String(
		"min-severity",
		"",
		"Minimum severity of printed notifications",
	)
	cmd.Flags().Duration(
		"refresh",
		10*time.Second,
		"Interval between two roster prints",
	)
	addProfilingFlags(cmd)

	rootCmd.AddCommand(cmd)
}
