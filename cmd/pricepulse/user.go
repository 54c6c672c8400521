// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package main

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pricepulse/pricepulse/internal/auth"
	"github.com/pricepulse/pricepulse/internal/config"
)

// passwordReader reads a password typed at a terminal without echo.
// Replaced in tests.
var passwordReader = func(fd int) ([]byte, error) {
	return term.ReadPassword(fd)
}

// isTerminal reports whether fd is an interactive terminal. Replaced in
// tests.
var isTerminal = term.IsTerminal

// NewUserCmd creates the user subcommand group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  `Create users and reset passwords directly in the configured credential store.`,
	}
	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserPasswdCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Register a new user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCommand(cmd, password, func(svc *auth.Service, pw string) error {
				if err := svc.Register(cmd.Context(), args[0], pw); err != nil {
					return err
				}
				cmd.Printf("User %q created\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (default: prompt, or read one line from stdin)")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newUserPasswdCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCommand(cmd, password, func(svc *auth.Service, pw string) error {
				if err := svc.ChangePassword(cmd.Context(), args[0], pw); err != nil {
					return err
				}
				cmd.Printf("Password for %q changed\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (default: prompt, or read one line from stdin)")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runUserCommand opens the store and runs fn with a service that never
// issues tokens.
func runUserCommand(cmd *cobra.Command, password string, fn func(*auth.Service, string) error) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	if password == "" {
		password, err = readPassword(cmd)
		if err != nil {
			return err
		}
	}

	credentials, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := auth.NewService(credentials,
		auth.NewPBKDF2Hasher(auth.WithIterations(cfg.Auth.Iterations)),
		offlineTokens{},
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	return fn(svc, password)
}

// readPassword prompts twice on a terminal, otherwise reads one line from
// the command's input.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		cmd.Print("Password: ")
		first, err := passwordReader(int(f.Fd()))
		cmd.Println()
		if err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		cmd.Print("Confirm password: ")
		second, err := passwordReader(int(f.Fd()))
		cmd.Println()
		if err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		if string(first) != string(second) {
			return "", oops.Code("PASSWORD_MISMATCH").Errorf("passwords do not match")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") { //nolint:errorlint // io.EOF is returned unwrapped
		return "", oops.Code("PASSWORD_READ_FAILED").Errorf("no password on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// offlineTokens satisfies auth.TokenCodec for commands that only manage
// credentials.
type offlineTokens struct{}

func (offlineTokens) Issue(string) (string, error) {
	return "", oops.Code("AUTH_TOKEN_UNAVAILABLE").Errorf("tokens are not issued offline")
}

func (offlineTokens) Verify(string) (string, error) {
	return "", oops.Code(auth.CodeUnauthenticated).Wrap(auth.ErrUnauthenticated)
}
