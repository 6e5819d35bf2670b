package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nestline/chatnest/internal/auth"
	"github.com/nestline/chatnest/internal/config"
	"github.com/nestline/chatnest/internal/storage"
	"github.com/nestline/chatnest/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var (
	seedEmail    string
	seedUsername string
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Create the first parent account",
	Long:    `Create a parent account directly in the database, for bootstrapping a fresh install.`,
	Example: `  chatnest -c config.yaml seed --email mom@example.com --username mom --password changeme123`,
	RunE:    runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedEmail, "email", "", "Parent email address (required)")
	seedCmd.Flags().StringVar(&seedUsername, "username", "", "Parent username (required)")
	seedCmd.Flags().StringVar(&seedPassword, "password", "", "Parent password (required)")
	_ = seedCmd.MarkFlagRequired("email")
	_ = seedCmd.MarkFlagRequired("username")
	_ = seedCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if len(seedPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = store.Close() }()

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	parent := storage.Parent{
		ID:           uuid.NewString(),
		Email:        seedEmail,
		Username:     seedUsername,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.Parents().Create(ctx, parent); err != nil {
		return fmt.Errorf("failed to create parent: %w", err)
	}

	fmt.Printf("Created parent account %s (%s)\n", parent.Username, parent.Email)
	return nil
}
