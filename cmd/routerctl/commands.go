package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/garvis/router/auth"
	"github.com/garvis/router/config"
	"github.com/garvis/router/models"
	"github.com/garvis/router/repositories/postgres"
	"github.com/garvis/router/services/backend"
	"github.com/garvis/router/services/health"
	"github.com/garvis/router/services/inventory"
	"github.com/garvis/router/services/proxy"
	"github.com/garvis/router/services/routing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProbeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe every configured endpoint once and print the health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadRouting(path)
			if err != nil {
				return err
			}

			client := backend.NewClient(backend.Config{ProbeTimeout: timeout}, nil)
			snapshot := health.NewAggregator(cfg.OrderedEndpoints(), client, timeout+time.Second, zap.NewNop(), nil).
				Probe(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), snapshot); err != nil {
				return err
			}
			if !snapshot.AnyOK {
				return errors.New("no endpoint is reachable")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 4*time.Second, "Per-endpoint probe timeout")
	return cmd
}

// nopLog discards decision records; routerctl never writes the decision log.
type nopLog struct{}

func (nopLog) Enqueue(*models.RouteDecision) bool { return true }

func newDecideCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "decide [prompt]",
		Short: "Show where a prompt would be routed, without calling a backend",
		Long: `Decide runs the routing engine offline. The prompt is taken from the
arguments, or from stdin when no argument is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			evaluation, err := decide(cmd.Context(), path, prompt, model)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evaluation)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Explicit alias, bypasses the rules")
	return cmd
}

func decide(ctx context.Context, path, prompt, model string) (*proxy.Evaluation, error) {
	cfg, err := config.LoadRouting(path)
	if err != nil {
		return nil, err
	}
	resolver, err := inventory.NewResolver(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := routing.NewEngine(cfg.Policy, resolver)
	if err != nil {
		return nil, err
	}
	svc := proxy.NewService(engine, resolver, nil, nopLog{}, nil, zap.NewNop())
	return svc.Evaluate(ctx, proxy.EvaluateRequest{RequestID: "routerctl", Prompt: prompt, Model: model})
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimRight(string(data), "\n")
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		secret  string
		issuer  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 gateway token signed with AUTH_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or AUTH_JWT_SECRET)")
			}
			token, err := auth.IssueToken(secret, issuer, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv("AUTH_JWT_ISSUER"), "Issuer claim")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count recorded decisions by outcome (requires DATABASE_URL or DB_HOST)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg := config.LoadDatabaseConfig()
			if dbCfg == nil {
				return errors.New("no database configured: set DATABASE_URL or DB_HOST")
			}
			factory, err := postgres.NewRepositoryFactory(dbCfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer factory.Close()

			from := time.Now().UTC().Add(-since)
			counts, err := factory.NewRepositories().Decisions.CountByOutcome(cmd.Context(), from)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"since":    from.Format(time.RFC3339),
				"outcomes": counts,
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window to count")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
