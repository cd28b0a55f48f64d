// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Command edgewatch-token mints operator tokens for the alert routes.
//
//	OPERATOR_JWT_SECRET=... edgewatch-token --operator alice --ttl 8h
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/edgewatch/internal/auth"
	"github.com/tomtom215/edgewatch/internal/validation"
)

const secretEnvVar = "OPERATOR_JWT_SECRET"

func main() {
	if err := newRootCmd(os.Stdout, os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer, getenv func(string) string) *cobra.Command {
	var (
		secret   string
		operator string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "edgewatch-token",
		Short: "Mint an operator token for the EdgeWatch alert API",
		Long: `Mints an HS256 token that identifies an operator on the alert list,
confirm and WebSocket routes. The secret must match the server's
OPERATOR_JWT_SECRET.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = getenv(secretEnvVar)
			}
			if secret == "" {
				return errors.New("secret required: pass --secret or set " + secretEnvVar)
			}
			if err := validation.ValidateOperatorID(operator); err != nil {
				return fmt.Errorf("invalid operator id %q: %w", operator, err)
			}

			m, err := auth.NewJWTManager(secret, ttl)
			if err != nil {
				return err
			}
			token, err := m.GenerateToken(operator)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, token)
			return err
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $"+secretEnvVar+")")
	cmd.Flags().StringVar(&operator, "operator", "", "operator id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("operator") //nolint:errcheck // flag is defined above
	return cmd
}
