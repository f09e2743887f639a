package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvuslabs/corvus/internal/artifact"
	"github.com/corvuslabs/corvus/internal/audit"
	"github.com/corvuslabs/corvus/internal/domain"
	"github.com/corvuslabs/corvus/internal/llm"
	"github.com/corvuslabs/corvus/internal/orchestrator"
	"github.com/corvuslabs/corvus/internal/registry"
	"github.com/corvuslabs/corvus/internal/valcache"
)

var (
	runExperiment  string
	runDocsDir     string
	runFrameworks  []string
	runProvider    string
	runModel       string
	runConcurrency int
	runEvidence    bool
	runID          string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an analysis run",
	Long: `Run the full pipeline: framework validation, cached coherence
checking, per-document analysis, consolidation, synthesis, and statistical
verification.

Frameworks are given as NAME or NAME=PATH. With a path, the local copy is
validated against the registry and a new version is minted when its content
changed; without one, the registered version is used as-is.

Examples:
  corvus run --experiment exp.md --docs ./corpus --framework clarity
  corvus run --experiment exp.md --docs ./corpus \
      --framework clarity=frameworks/clarity.yaml --framework rigor`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runExperiment, "experiment", "", "experiment description file (required)")
	runCmd.Flags().StringVar(&runDocsDir, "docs", "", "corpus directory (required)")
	runCmd.Flags().StringArrayVar(&runFrameworks, "framework", nil, "framework NAME or NAME=PATH (repeatable, required)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "override the configured provider")
	runCmd.Flags().StringVar(&runModel, "model", "", "override the configured model")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "override analysis concurrency")
	runCmd.Flags().BoolVar(&runEvidence, "evidence", false, "run the evidence-integration synthesis pass")
	runCmd.Flags().StringVar(&runID, "run-id", "", "explicit run identifier (generated when empty)")

	_ = runCmd.MarkFlagRequired("experiment")
	_ = runCmd.MarkFlagRequired("docs")
	_ = runCmd.MarkFlagRequired("framework")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runProvider != "" {
		cfg.Run.Provider = runProvider
	}
	if runModel != "" {
		cfg.Run.Model = runModel
	}
	if runConcurrency > 0 {
		cfg.Run.Concurrency = runConcurrency
	}
	if runEvidence {
		cfg.Run.EvidencePass = true
	}

	logger := slog.Default()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	regStore, err := registry.Open(cfg.Data.RegistryPath())
	if err != nil {
		return err
	}
	defer regStore.Close()

	artifacts, err := artifact.NewFSStore(cfg.Data.ArtifactsDir())
	if err != nil {
		return err
	}
	cache, err := valcache.NewManager(cfg.Data.CacheDir(), artifacts, logger)
	if err != nil {
		return err
	}
	trail, err := audit.Open(cfg.Data.AuditPath(), logger)
	if err != nil {
		return err
	}
	defer trail.Close()

	client, err := llm.NewClient(ctx, cfg.ClientConfig(), logger)
	if err != nil {
		return err
	}

	input, err := buildRunInput()
	if err != nil {
		return err
	}

	orch := orchestrator.New(
		registry.NewTransactionManager(regStore, logger),
		cache,
		artifacts,
		trail,
		client,
		nil,
		cfg.OrchestratorConfig(),
		logger,
	)

	report, runErr := orch.Run(ctx, input)
	if report != nil {
		printReport(report)
	}
	return runErr
}

// buildRunInput assembles frameworks, experiment, and corpus from the flags.
func buildRunInput() (orchestrator.RunInput, error) {
	input := orchestrator.RunInput{RunID: runID}

	experiment, err := os.ReadFile(runExperiment)
	if err != nil {
		return input, fmt.Errorf("read experiment: %w", err)
	}
	input.Experiment = experiment

	for _, spec := range runFrameworks {
		ref := domain.FrameworkRef{Name: spec}
		if name, path, ok := strings.Cut(spec, "="); ok {
			content, err := os.ReadFile(path)
			if err != nil {
				return input, fmt.Errorf("read framework %s: %w", name, err)
			}
			ref = domain.FrameworkRef{Name: name, Content: content}
		}
		input.Frameworks = append(input.Frameworks, ref)
	}

	docs, err := loadCorpus(runDocsDir)
	if err != nil {
		return input, err
	}
	if len(docs) == 0 {
		return input, fmt.Errorf("no documents found in %s", runDocsDir)
	}
	input.Documents = docs
	return input, nil
}

// loadCorpus reads every regular file in dir, sorted by name for a stable
// corpus fingerprint.
func loadCorpus(dir string) ([]domain.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	var docs []domain.Document
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", e.Name(), err)
		}
		docs = append(docs, domain.Document{Name: e.Name(), Content: content})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// printReport renders the operator-facing run summary.
func printReport(r *domain.RunReport) {
	fmt.Printf("run %s: %s in %s\n", r.RunID, r.Status, r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if failed := r.FailedFrameworks(); len(failed) > 0 {
		fmt.Printf("\n%d framework(s) failed validation; run aborted before analysis\n", len(failed))
		for _, g := range failed {
			fmt.Printf("  %s [%s]\n    reason: %s\n    fix:    %s\n", g.Name, g.State, g.Reason, g.Hint)
		}
	}

	if len(r.Timings) > 0 {
		fmt.Println("\nphases:")
		for _, tm := range r.Timings {
			line := fmt.Sprintf("  %-14s %s", tm.Phase, tm.Duration().Round(time.Millisecond))
			if tm.CacheHits+tm.CacheMiss > 0 {
				line += fmt.Sprintf("  (cache: %d hit, %d miss)", tm.CacheHits, tm.CacheMiss)
			}
			fmt.Println(line)
		}
	}

	if len(r.Documents) > 0 {
		passed := 0
		for _, d := range r.Documents {
			if d.Passed {
				passed++
			}
		}
		fmt.Printf("\ndocuments: %d/%d passed\n", passed, len(r.Documents))
		for _, d := range r.Documents {
			if !d.Passed {
				fmt.Printf("  failed: %s (%s)\n", d.Document, d.Reason)
			}
		}
	}

	fmt.Printf("\ncache efficiency: %s (%.0f%% hit rate, %d hits / %d misses)\n",
		r.Cache.Efficiency, r.Cache.HitRate*100, r.Cache.Hits, r.Cache.Misses)

	if r.Verification != nil {
		if r.Verification.Passed() {
			fmt.Printf("verification: passed (%d aggregates within %.2g)\n",
				r.Verification.Checked, r.Verification.Tolerance)
		} else {
			fmt.Printf("verification: FAILED, %d mismatch(es)\n", len(r.Verification.Mismatches))
			for _, m := range r.Verification.Mismatches {
				fmt.Printf("  %s: reported %.6f, recomputed %.6f\n", m.Dimension, m.Reported, m.Recomputed)
			}
		}
	}

	for _, p := range r.Providers {
		fmt.Printf("provider %s: %.0f%% success over %d requests, breaker %s\n",
			p.Provider, p.SuccessRate*100, p.Requests, p.BreakerState)
	}

	if r.AbortReason != "" {
		fmt.Printf("\naborted: %s\n", r.AbortReason)
	}
}
