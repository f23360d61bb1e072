package main

import (
	"fmt"
	"time"

	"github.com/dkeye/meshvoice/internal/auth"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagTokenName string
	flagTokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token with the configured secret",
	Example: `  voicectl token --name Alice
  MESHVOICE_SECRET=s3cret voicectl token --name Bob --ttl 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tok, err := mintToken(cfg.Secret, flagTokenName, flagTokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagTokenName, "name", "", "display name carried by the token")
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("name")
}

func mintToken(secret, name string, ttl time.Duration) (string, error) {
	name, err := domain.NormalizeName(name)
	if err != nil {
		return "", err
	}
	v, err := auth.NewVerifier(secret)
	if err != nil {
		return "", err
	}
	return v.Issue(uuid.NewString(), name, ttl)
}
