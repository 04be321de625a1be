// SPDX-FileCopyrightText: Copyright (C) 2018, 2019  David Stainton, 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cipherlane/transport/config"
	"github.com/cipherlane/transport/internal/cli"
	"github.com/cipherlane/transport/internal/instrument"
	"github.com/cipherlane/transport/session"
)

// passwordEnv names the environment variable holding the SRP password.
const passwordEnv = "CIPHERLANE_PASSWORD"

// Config holds the command line configuration
type Config struct {
	ConfigFile  string
	Method      string
	Count       int
	Timeout     int
	Concurrency int
	Username    string
	LogLevel    string
	MetricsAddr string
	Verbose     bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Secure session transport ping tool",
		Long: `A ping tool for testing and debugging connectivity to a secure session
transport server.

The tool logs in, anonymously unless a username is given, and then issues
encrypted calls to the given method.  Every call consumes a ticket, so long
runs also exercise the background ticket refresh.`,
		Example: `  # Ping anonymously
  ping -c client.toml

  # Ping as a user, the password is read from CIPHERLANE_PASSWORD
  ping -c client.toml -u alice -n 20 -C 4

  # Expose the transport metrics while pinging
  ping -c client.toml -n 1000 --metrics :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cfg.ConfigFile, cfg.LogLevel)
			if err != nil {
				return err
			}
			if cfg.MetricsAddr != "" {
				srv := instrument.Serve(cfg.MetricsAddr)
				defer srv.Close()
				fmt.Printf("Serving metrics on %s/metrics\n", cfg.MetricsAddr)
			}

			m, err := session.New(opts, nil)
			if err != nil {
				return err
			}
			defer m.Destroy()

			if err = login(cmd.Context(), m, cfg.Username, time.Duration(cfg.Timeout)*time.Second); err != nil {
				return err
			}
			p := &pinger{m: m, cfg: &cfg, out: cmd.OutOrStdout()}
			if !p.run(cmd.Context()) {
				return fmt.Errorf("%s is unreachable", m.Host())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&cfg.Method, "method", "m", session.TicketTestMethod, "method to call")
	cmd.Flags().IntVarP(&cfg.Count, "count", "n", 5, "number of calls to send")
	cmd.Flags().IntVarP(&cfg.Timeout, "timeout", "t", 30, "per call timeout in seconds")
	cmd.Flags().IntVarP(&cfg.Concurrency, "concurrency", "C", 1, "number of concurrent calls")
	cmd.Flags().StringVarP(&cfg.Username, "user", "u", "", "log in as user (password from "+passwordEnv+")")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "", "override the configured log level")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics", "", "serve prometheus metrics on this address")
	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "print every result")

	cmd.MarkFlagRequired("config")

	return cmd
}

func loadOptions(configFile, logLevel string) (*session.Options, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err = cfg.FixupAndValidate(); err != nil {
			return nil, err
		}
	}
	return cfg.SessionOptions()
}

func login(ctx context.Context, m *session.Manager, username string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if username != "" {
		password, ok := os.LookupEnv(passwordEnv)
		if !ok {
			return fmt.Errorf("%s is not set", passwordEnv)
		}
		_, err = m.ConnectSRP(ctx, username, password, nil)
	} else {
		_, err = m.ConnectECDHE(ctx, nil, "")
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Printf("%s\n", infoStyle.Render(fmt.Sprintf("Logged in to %s (%s), %d tickets", m.Host(), m.ConnectionInfo().Mode(), m.Tickets())))
	return nil
}

func main() {
	cli.Execute(newRootCommand())
}
