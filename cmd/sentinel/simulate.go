package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polisai/sentinel/pkg/audit"
	"github.com/polisai/sentinel/pkg/domain"
	"github.com/polisai/sentinel/pkg/plant"
)

// simulationSummary is printed at the end of a headless run.
type simulationSummary struct {
	Ticks        int                `json:"ticks"`
	Mode         domain.RuntimeMode `json:"mode"`
	Scale        float64            `json:"scale"`
	RiskLevel    domain.RiskLevel   `json:"riskLevel"`
	Theta        []float64          `json:"theta"`
	Transitions  uint64             `json:"transitions"`
	Rejected     uint64             `json:"rejected"`
	Failures     []string           `json:"failures"`
	AuditRecords uint64             `json:"auditRecords"`
	AuditHead    string             `json:"auditHead"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the governor headless against the simulated plant and print a summary",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	cmd.Flags().Int("ticks", 1000, "Number of control ticks to run")
	cmd.Flags().Float64("drift", 1.0, "Plant mass drift factor")
	cmd.Flags().Uint64("seed", 1, "Command generator seed")
	cmd.Flags().Float64("spike-probability", 0.01, "Per-axis chance of a torque spike each tick")
	cmd.Flags().String("ledger", "", "Persist the audit trail to a badger ledger at this path")
	cmd.Flags().Bool("json", false, "Print the summary as JSON")
	return cmd
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd)

	ticks, _ := cmd.Flags().GetInt("ticks")
	drift, _ := cmd.Flags().GetFloat64("drift")
	seed, _ := cmd.Flags().GetUint64("seed")
	spikes, _ := cmd.Flags().GetFloat64("spike-probability")
	ledgerPath, _ := cmd.Flags().GetString("ledger")
	asJSON, _ := cmd.Flags().GetBool("json")

	if ticks < 1 {
		return fmt.Errorf("--ticks must be >= 1, got %d", ticks)
	}

	params := plant.DefaultParams(cfg.Governor.DOF)
	params.Drift = drift
	params.Seed = seed
	params.SpikeProbability = spikes

	opts := appOptions{plant: params, logger: logger}
	if ledgerPath != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.InMemory = false
		cfg.Audit.Path = ledgerPath
	} else {
		opts.sink = audit.NewMemorySink()
	}
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, opts)
	if err != nil {
		return err
	}

	done, runErr := a.loop.Drive(ctx, ticks)
	closeErr := a.close(ctx)
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}

	snap := a.gov.Snapshot()
	adv := a.gov.Advisory()
	summary := simulationSummary{
		Ticks:       done,
		Mode:        snap.Mode,
		Scale:       adv.Scale,
		RiskLevel:   adv.RiskLevel,
		Theta:       snap.Theta,
		Transitions: snap.Transitions,
		Rejected:    a.loop.Stats().Rejected,
		Failures:    []string{},
	}
	for _, ev := range a.loop.Failures() {
		summary.Failures = append(summary.Failures, ev.Type)
	}
	if a.dispatcher != nil {
		summary.AuditRecords = a.dispatcher.Written()
		_, summary.AuditHead = a.dispatcher.Head()
	}

	return printSummary(cmd.OutOrStdout(), summary, asJSON)
}

func printSummary(w io.Writer, s simulationSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ticks:\t%d\n", s.Ticks)
	fmt.Fprintf(tw, "mode:\t%s\n", s.Mode)
	fmt.Fprintf(tw, "scale:\t%g (%s)\n", s.Scale, s.RiskLevel)
	fmt.Fprintf(tw, "theta:\t%.4f\n", s.Theta)
	fmt.Fprintf(tw, "transitions:\t%d\n", s.Transitions)
	fmt.Fprintf(tw, "rejected:\t%d\n", s.Rejected)
	failures := "none"
	if len(s.Failures) > 0 {
		failures = strings.Join(s.Failures, ", ")
	}
	fmt.Fprintf(tw, "failures:\t%s\n", failures)
	fmt.Fprintf(tw, "audit:\t%d records, head %s\n", s.AuditRecords, s.AuditHead)
	return tw.Flush()
}
