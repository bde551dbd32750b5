package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"conversation-service/internal/auth"
	"conversation-service/internal/client"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

var (
	tailServer        string
	tailUserID        int
	tailConversations []int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Connect as a user, join conversations and print live events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tailUserID <= 0 {
			return errors.New("--user must be positive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		token, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(tailUserID)
		if err != nil {
			return err
		}
		liveURL, err := liveEndpoint(tailServer)
		if err != nil {
			return err
		}

		c := client.New(client.Options{
			LiveURL:    liveURL,
			BaseURL:    tailServer + "/api",
			Token:      token,
			UserID:     tailUserID,
			AckTimeout: cfg.Hub.AckTimeout,
			Logger:     logger,
		})
		defer c.Close()

		out := cmd.OutOrStdout()
		sub := c.Subscribe(func(env models.Envelope) { printEnvelope(out, env) })
		defer sub.Release()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for _, id := range tailConversations {
			if err := c.Sync(ctx, id); err != nil {
				logger.Warn("backlog fetch failed", zap.Int("conversation_id", id), zap.Error(err))
				continue
			}
			for _, msg := range c.Timeline(id).Messages() {
				printEnvelope(out, mustEnvelope(models.EventMessage, msg))
			}
			if err := c.Join(ctx, id); err != nil {
				return fmt.Errorf("join %d: %w", id, err)
			}
		}

		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailServer, "server", "http://localhost:8083", "service base URL")
	tailCmd.Flags().IntVarP(&tailUserID, "user", "u", 0, "user id to connect as")
	tailCmd.Flags().IntSliceVar(&tailConversations, "conversation", nil, "conversation ids to join (repeatable)")
	rootCmd.AddCommand(tailCmd)
}

func liveEndpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse --server: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/ws"
	return u.String(), nil
}

func mustEnvelope(event models.EventName, payload any) models.Envelope {
	env, _ := models.NewEnvelope(event, "", payload)
	return env
}

func printEnvelope(w io.Writer, env models.Envelope) {
	line, err := json.Marshal(env)
	if err != nil {
		return
	}
	fmt.Fprintln(w, string(line))
}
