package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/chat-gateway/app"
	"github.com/upb/chat-gateway/auth"
	"github.com/upb/chat-gateway/config"
	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/repositories/filelog"
)

// env is what every subcommand needs before it runs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "chat-gateway",
		Short:         "Semantic-cache chat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := initLogger()
			if err != nil {
				return err
			}
			cfg, err := config.New(cmd.Context())
			if err != nil {
				_ = logger.Sync()
				return err
			}
			e.cfg = cfg
			e.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	root.AddCommand(newServeCmd(e), newKnowledgeCmd(e), newTokenCmd(e))
	return root
}

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runServer(ctx, e.cfg, e.logger)
		},
	}
}

func newKnowledgeCmd(e *env) *cobra.Command {
	kb := &cobra.Command{
		Use:   "kb",
		Short: "Maintain the knowledge base",
	}

	kb.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "Fold the knowledge write log into its snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKnowledge(cmd.Context(), e, func(k *app.Knowledge) error {
				if err := k.Service.Compact(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "knowledge base compacted")
				return nil
			})
		},
	})

	kb.AddCommand(&cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Append the entries of a JSON snapshot to the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := filelog.ReadSnapshot(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return withKnowledge(cmd.Context(), e, func(k *app.Knowledge) error {
				n, err := k.Service.Import(cmd.Context(), entries)
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d entries\n", n, len(entries))
				return err
			})
		},
	})

	return kb
}

func withKnowledge(ctx context.Context, e *env, fn func(k *app.Knowledge) error) error {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	k, err := app.NewKnowledge(e.cfg, e.logger, metrics)
	if errors.Is(err, filelog.ErrLogLocked) {
		return fmt.Errorf("knowledge base is in use, stop chat-gateway serve first: %w", err)
	}
	if err != nil {
		return err
	}
	defer k.Close()

	k.Service.Load(ctx)
	return fn(k)
}

func newTokenCmd(e *env) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "token <caller-id>",
		Short: "Issue a signed caller token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := auth.NewIssuer(auth.Config{
				Secret:   e.cfg.Auth.JWTSecret,
				Issuer:   e.cfg.Auth.Issuer,
				TokenTTL: e.cfg.Auth.TokenTTL,
			})
			token, err := issuer.Issue(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	return cmd
}
