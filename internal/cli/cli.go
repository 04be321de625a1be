// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package cli provides the shared plumbing of the command line tools.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/cipherlane/transport/core/failure"
)

// Exit statuses.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitProtocol = 3
)

// usageMarkers are fragments of the errors cobra and the tools return for
// command line mistakes.
var usageMarkers = []string{
	"flag needs an argument:",
	"unknown flag:",
	"unknown shorthand flag:",
	"unknown command",
	"invalid argument",
	"required flag",
	"accepts",
	"arg(s), received",
	"failed to load config file",
}

// Execute runs cmd through fang and exits with the status ExitCode picks.
func Execute(cmd *cobra.Command) {
	err := fang.Execute(context.Background(), cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandler(cmd)),
	)
	if err != nil {
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps err to a process exit status.  Transport and server side
// failures exit with ExitFailure, while handshake, frame and ticket
// failures mean the peer does not speak the protocol and exit with
// ExitProtocol.
func ExitCode(err error) int {
	if IsUsageError(err) {
		return ExitUsage
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		switch fe.Scope {
		case failure.ScopeFrame, failure.ScopeHandshake, failure.ScopeTicket:
			return ExitProtocol
		}
	}
	return ExitFailure
}

// ErrorHandler prints err.  Command line mistakes are followed by the
// usage of cmd, everything else by a pointer to --help.
func ErrorHandler(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		fmt.Fprintf(w, "%s\n%s\n\n", styles.ErrorHeader.String(), styles.ErrorText.Render(err.Error()+"."))

		if !IsUsageError(err) {
			hint := lipgloss.JoinHorizontal(lipgloss.Left,
				styles.ErrorText.UnsetWidth().Render("Try"),
				styles.Program.Flag.Render("--help"),
				styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
			)
			fmt.Fprintf(w, "%s\n\n", hint)
			return
		}

		help := cmd.HelpFunc()
		if help == nil {
			return
		}
		cmd.SetOut(colorprofile.NewWriter(w, os.Environ()))
		help(cmd, nil)
	}
}

// IsUsageError returns true for flag, argument and config file errors.
func IsUsageError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, marker := range usageMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
