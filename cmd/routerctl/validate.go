package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/garvis/router/config"
	"github.com/garvis/router/models"
	"github.com/garvis/router/services/backend"
	"github.com/garvis/router/services/health"
	"github.com/garvis/router/services/inventory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CheckStatus grades one validation check
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// CheckResult is one line of the validation report
type CheckResult struct {
	Name   string                 `json:"name"`
	Status CheckStatus            `json:"status"`
	Data   map[string]interface{} `json:"data"`
}

// Report is the JSON document printed by routerctl validate
type Report struct {
	Meta    map[string]string   `json:"meta"`
	Results []CheckResult       `json:"results"`
	Summary map[CheckStatus]int `json:"summary"`
}

func (r *Report) add(name string, status CheckStatus, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	r.Results = append(r.Results, CheckResult{Name: name, Status: status, Data: data})
	r.Summary[status]++
}

// Failed reports whether any check failed
func (r *Report) Failed() bool {
	return r.Summary[CheckFail] > 0
}

type validateOptions struct {
	configPath   string
	decisionLog  string
	probeTimeout time.Duration
	offline      bool
	output       string
}

func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the routing configuration and the endpoints it names",
		Long: `Validate loads the routing configuration, checks every cross reference,
probes each endpoint and prints a pass/warn/fail JSON report. The command
exits non-zero when any check fails; unreachable endpoints only warn.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath, _ = cmd.Flags().GetString("config")
			report := buildReport(cmd.Context(), opts)
			if err := writeReport(cmd.OutOrStdout(), report, opts.output); err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("%d check(s) failed", report.Summary[CheckFail])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.decisionLog, "decision-log", envOr("DECISION_LOG_PATH", "logs/router.jsonl"), "Decision log file to check")
	cmd.Flags().DurationVar(&opts.probeTimeout, "probe-timeout", 4*time.Second, "Per-endpoint probe timeout")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Skip endpoint probes")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Also write the report to this file")
	return cmd
}

func buildReport(ctx context.Context, opts *validateOptions) *Report {
	report := &Report{
		Meta: map[string]string{
			"ts":     time.Now().UTC().Format(time.RFC3339),
			"config": opts.configPath,
		},
		Summary: map[CheckStatus]int{CheckPass: 0, CheckWarn: 0, CheckFail: 0},
	}

	cfg, err := config.LoadRouting(opts.configPath)
	if err != nil {
		report.add("routing config consistent", CheckFail, map[string]interface{}{"error": err.Error()})
		return report
	}
	report.add("routing config consistent", CheckPass, map[string]interface{}{
		"endpoints": cfg.EndpointOrder,
		"inventory": cfg.Aliases(),
		"rules":     len(cfg.Policy.Rules),
		"default":   cfg.Policy.Default,
	})

	checkUnusedEndpoints(report, cfg)
	checkDecisionLogDir(report, opts.decisionLog)

	if !opts.offline {
		client := backend.NewClient(backend.Config{ProbeTimeout: opts.probeTimeout}, nil)
		aggregator := health.NewAggregator(cfg.OrderedEndpoints(), client, opts.probeTimeout+time.Second, zap.NewNop(), nil)
		snapshot := aggregator.Probe(ctx)
		status := CheckPass
		if !snapshot.AllOK {
			status = CheckWarn
		}
		report.add("endpoints reachable", status, map[string]interface{}{
			"details": snapshot.Endpoints,
			"down":    snapshot.Down(),
		})
	}

	return report
}

func checkUnusedEndpoints(report *Report, cfg *models.RouterConfig) {
	resolver, err := inventory.NewResolver(cfg)
	if err != nil {
		report.add("endpoints in use", CheckFail, map[string]interface{}{"error": err.Error()})
		return
	}
	inUse := resolver.EndpointsInUse()
	unused := []string{}
	for _, id := range cfg.EndpointOrder {
		if len(inUse[id]) == 0 {
			unused = append(unused, id)
		}
	}
	status := CheckPass
	if len(unused) > 0 {
		status = CheckWarn
	}
	report.add("endpoints in use", status, map[string]interface{}{"aliases": inUse, "unused": unused})
}

func checkDecisionLogDir(report *Report, path string) {
	if path == "" {
		report.add("decision log writable", CheckWarn, map[string]interface{}{"note": "no decision log path"})
		return
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		report.add("decision log writable", CheckFail, map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	probe, err := os.CreateTemp(dir, ".routerctl-*")
	if err != nil {
		report.add("decision log writable", CheckFail, map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	report.add("decision log writable", CheckPass, map[string]interface{}{"path": path})
}

func writeReport(w io.Writer, report *Report, output string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return err
	}
	if output == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "JSON report: %s\n", output)
	return nil
}
