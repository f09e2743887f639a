// Package orchestrator drives a run through its ordered phases: framework
// validation, per-document analysis, consolidation, synthesis, and
// statistical verification. Validation failures abort before any paid
// analysis call; per-document failures are isolated and recorded unless
// their rate crosses the configured threshold.
package orchestrator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvuslabs/corvus/internal/artifact"
	"github.com/corvuslabs/corvus/internal/audit"
	"github.com/corvuslabs/corvus/internal/domain"
	"github.com/corvuslabs/corvus/internal/llm/transport"
	"github.com/corvuslabs/corvus/internal/registry"
	"github.com/corvuslabs/corvus/internal/valcache"
)

// Fatal run errors. Each aborts the run; the report carries the operator-
// facing reason.
var (
	// ErrCoherenceFailed means a framework+experiment+corpus combination
	// failed its coherence check.
	ErrCoherenceFailed = errors.New("coherence validation failed")

	// ErrAnalysisHalted means the per-document failure rate crossed the
	// configured threshold.
	ErrAnalysisHalted = errors.New("analysis halted: failure rate above threshold")

	// ErrVerificationFailed means recomputed aggregates diverged from the
	// consolidated values beyond tolerance.
	ErrVerificationFailed = errors.New("statistical verification failed")
)

// Defaults for run configuration.
const (
	DefaultConcurrency          = 4
	DefaultFailureRateThreshold = 0.5
	DefaultTolerance            = 1e-6
)

// ModelClient is the slice of the llm client the orchestrator needs.
type ModelClient interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
	Health() []domain.ProviderHealth
}

// Config tunes one run.
type Config struct {
	// Provider and Model route every call of the run.
	Provider string
	Model    string

	// Concurrency bounds the analysis worker pool.
	Concurrency int

	// FailureRateThreshold halts the run when exceeded during analysis.
	FailureRateThreshold float64

	// Tolerance bounds the verification recomputation drift.
	Tolerance float64

	// EvidencePass enables the second synthesis call.
	EvidencePass bool

	// CacheHighThreshold and CacheMediumThreshold band the cache report.
	CacheHighThreshold   float64
	CacheMediumThreshold float64
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.CacheHighThreshold <= 0 {
		c.CacheHighThreshold = valcache.DefaultHighThreshold
	}
	if c.CacheMediumThreshold <= 0 {
		c.CacheMediumThreshold = valcache.DefaultMediumThreshold
	}
	return c
}

// RunInput names everything one run consumes.
type RunInput struct {
	// RunID is generated when empty.
	RunID string

	// Frameworks are the references to validate and analyze with.
	Frameworks []domain.FrameworkRef

	// Experiment is the raw experiment description.
	Experiment []byte

	// Documents is the corpus, fully loaded.
	Documents []domain.Document
}

// Orchestrator owns one run at a time. Components are constructed per run
// driver and passed in; nothing here is process-global.
type Orchestrator struct {
	txn     *registry.TransactionManager
	cache   *valcache.Manager
	store   artifact.Store
	trail   *audit.Log
	client  ModelClient
	prompts PromptBuilder
	cfg     Config
	logger  *slog.Logger
}

// New creates a run orchestrator.
func New(
	txn *registry.TransactionManager,
	cache *valcache.Manager,
	store artifact.Store,
	trail *audit.Log,
	client ModelClient,
	prompts PromptBuilder,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if prompts == nil {
		prompts = NewDefaultPrompts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		txn:     txn,
		cache:   cache,
		store:   store,
		trail:   trail,
		client:  client,
		prompts: prompts,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "orchestrator"),
	}
}

// runState accumulates report material as phases complete.
type runState struct {
	report       domain.RunReport
	consolidated domain.ConsolidatedAnalysis

	validationHits   int64
	validationMisses int64
}

// Run executes the pipeline. The returned report is always non-nil for
// validation, coherence, analysis-threshold, and verification aborts so the
// operator sees guidance instead of a raw trace; infrastructure failures
// return a nil report with the error.
func (o *Orchestrator) Run(ctx context.Context, input RunInput) (*domain.RunReport, error) {
	cfg := o.cfg
	if input.RunID == "" {
		input.RunID = uuid.New().String()
	}

	state := &runState{
		report: domain.RunReport{
			RunID:     input.RunID,
			Status:    domain.RunActive,
			StartedAt: time.Now().UTC(),
		},
	}

	o.logger.Info("run started",
		"run_id", input.RunID,
		"frameworks", len(input.Frameworks),
		"documents", len(input.Documents),
		"provider", cfg.Provider,
		"model", cfg.Model)
	if err := o.trail.Emit(input.RunID, "", domain.EventRunStarted, map[string]any{
		"frameworks": len(input.Frameworks),
		"documents":  len(input.Documents),
		"model":      cfg.Provider + "/" + cfg.Model,
	}); err != nil {
		return nil, err
	}

	if err := o.validationPhase(ctx, input, state); err != nil {
		return o.abort(ctx, state, err)
	}

	results, failures, err := o.analysisPhase(ctx, input, state)
	if err != nil {
		return o.abort(ctx, state, err)
	}

	o.consolidationPhase(input, state, results, failures)

	synthesis, err := o.synthesisPhase(ctx, input, state)
	if err != nil {
		return o.abort(ctx, state, err)
	}
	state.report.Synthesis = synthesis

	verification, err := o.verificationPhase(input, state)
	state.report.Verification = verification
	if err != nil {
		return o.abort(ctx, state, err)
	}

	state.report.Status = domain.RunCompleted
	state.report.EndedAt = time.Now().UTC()
	o.finishReport(state)

	reportHash, err := o.persistReport(ctx, &state.report)
	if err != nil {
		return nil, err
	}
	if err := o.trail.Emit(input.RunID, "", domain.EventRunCompleted, map[string]any{
		"report_hash": reportHash,
	}); err != nil {
		return nil, err
	}
	o.logger.Info("run completed", "run_id", input.RunID, "report_hash", reportHash.Short())
	return &state.report, nil
}

// abort finalizes the report for a fatal condition. The error is still
// returned so callers and exit codes see the failure.
func (o *Orchestrator) abort(ctx context.Context, state *runState, cause error) (*domain.RunReport, error) {
	state.report.Status = domain.RunAborted
	state.report.EndedAt = time.Now().UTC()
	state.report.AbortReason = cause.Error()
	o.finishReport(state)

	if _, err := o.persistReport(ctx, &state.report); err != nil {
		o.logger.Error("failed to persist abort report", "error", err)
	}
	if err := o.trail.Emit(state.report.RunID, "", domain.EventRunAborted, map[string]string{
		"reason": cause.Error(),
	}); err != nil {
		o.logger.Error("failed to audit run abort", "error", err)
	}
	o.logger.Warn("run aborted", "run_id", state.report.RunID, "reason", cause.Error())
	return &state.report, cause
}

// finishReport fills the cross-phase report sections.
func (o *Orchestrator) finishReport(state *runState) {
	state.report.Cache = o.cacheReport(state)
	state.report.Providers = o.client.Health()
}

// cacheReport bands this run's validation-cache traffic.
func (o *Orchestrator) cacheReport(state *runState) domain.CacheReport {
	hits, misses := state.validationHits, state.validationMisses
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	efficiency := valcache.EfficiencyLow
	switch {
	case hitRate >= o.cfg.CacheHighThreshold:
		efficiency = valcache.EfficiencyHigh
	case hitRate >= o.cfg.CacheMediumThreshold:
		efficiency = valcache.EfficiencyMedium
	}
	return domain.CacheReport{
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		Efficiency: efficiency,
	}
}

// persistReport stores the report as an artifact of its own.
func (o *Orchestrator) persistReport(ctx context.Context, report *domain.RunReport) (domain.Hash, error) {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize run report: %w", err)
	}
	h, err := o.store.Put(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("persist run report: %w", err)
	}
	return h, nil
}

// beginPhase emits the start event and returns the timing record to finish.
func (o *Orchestrator) beginPhase(runID string, phase domain.Phase) (domain.PhaseTiming, error) {
	timing := domain.PhaseTiming{Phase: phase, StartedAt: time.Now().UTC()}
	err := o.trail.Emit(runID, phase, domain.EventPhaseStarted, nil)
	return timing, err
}

// endPhase closes the timing record and emits the completion event.
func (o *Orchestrator) endPhase(state *runState, timing domain.PhaseTiming) error {
	timing.EndedAt = time.Now().UTC()
	state.report.Timings = append(state.report.Timings, timing)
	o.logger.Info("phase completed",
		"run_id", state.report.RunID,
		"phase", timing.Phase,
		"duration", timing.Duration(),
		"cache_hits", timing.CacheHits,
		"cache_misses", timing.CacheMiss)
	return o.trail.Emit(state.report.RunID, timing.Phase, domain.EventPhaseCompleted, map[string]any{
		"duration_ms":  timing.Duration().Milliseconds(),
		"cache_hits":   timing.CacheHits,
		"cache_misses": timing.CacheMiss,
	})
}

// validationPhase runs framework validation and the cached coherence checks.
// Any failure is fatal before a single analysis call is paid for.
func (o *Orchestrator) validationPhase(ctx context.Context, input RunInput, state *runState) error {
	timing, err := o.beginPhase(input.RunID, domain.PhaseValidation)
	if err != nil {
		return err
	}

	outcomes, guidance, err := o.txn.ValidateAll(ctx, input.Frameworks)
	if outcomes != nil {
		state.report.Frameworks = guidanceEntries(guidance)
		for _, outcome := range outcomes {
			if auditErr := o.auditFrameworkOutcome(input.RunID, outcome); auditErr != nil {
				return auditErr
			}
		}
	}
	if err != nil {
		timing.EndedAt = time.Now().UTC()
		state.report.Timings = append(state.report.Timings, timing)
		return err
	}

	for _, outcome := range outcomes {
		if cerr := o.coherenceCheck(ctx, input, state, &timing, outcome); cerr != nil {
			timing.EndedAt = time.Now().UTC()
			state.report.Timings = append(state.report.Timings, timing)
			return cerr
		}
	}

	return o.endPhase(state, timing)
}

// auditFrameworkOutcome emits the validation trail events for one framework.
func (o *Orchestrator) auditFrameworkOutcome(runID string, outcome registry.Outcome) error {
	if err := o.trail.Emit(runID, domain.PhaseValidation, domain.EventFrameworkValidated, map[string]string{
		"framework": outcome.Name(),
		"state":     string(outcome.State()),
	}); err != nil {
		return err
	}
	if outcome.Minted != nil {
		return o.trail.Emit(runID, domain.PhaseValidation, domain.EventVersionMinted, map[string]any{
			"framework": outcome.Minted.Name,
			"version":   outcome.Minted.Version,
		})
	}
	if outcome.State() == domain.CheckRolledBack {
		return o.trail.Emit(runID, domain.PhaseValidation, domain.EventVersionRolledBack, map[string]string{
			"framework": outcome.Name(),
		})
	}
	return nil
}

// coherenceCheck validates one framework+experiment+corpus+model tuple,
// consulting the validation cache first.
func (o *Orchestrator) coherenceCheck(
	ctx context.Context,
	input RunInput,
	state *runState,
	timing *domain.PhaseTiming,
	outcome registry.Outcome,
) error {
	record := outcome.Record()
	frameworkContent := frameworkKeyContent(input.Frameworks, record)

	key := valcache.DeriveKey(valcache.Inputs{
		Framework:  frameworkContent,
		Experiment: input.Experiment,
		Corpus:     corpusFingerprint(input.Documents),
		ModelID:    o.cfg.Provider + "/" + o.cfg.Model,
	})

	result, hit := o.cache.Check(ctx, key)
	eventType := domain.EventCacheMiss
	if hit {
		timing.CacheHits++
		state.validationHits++
		eventType = domain.EventCacheHit
	} else {
		timing.CacheMiss++
		state.validationMisses++
	}
	if err := o.trail.Emit(input.RunID, domain.PhaseValidation, eventType, map[string]string{
		"framework": record.Name,
		"key":       key.Short(),
	}); err != nil {
		return err
	}

	if !hit {
		var err error
		result, err = o.runCoherenceCall(ctx, input, frameworkContent)
		if err != nil {
			if serr := o.cache.StoreFailed(key, result.Model); serr != nil {
				o.logger.Warn("failed to record failed validation", "error", serr)
			}
			return fmt.Errorf("coherence check for %s: %w", record.Name, err)
		}
		if err := o.cache.Store(ctx, key, result, result.Model); err != nil {
			return fmt.Errorf("store coherence result for %s: %w", record.Name, err)
		}
	}

	if !result.Coherent {
		return fmt.Errorf("%w: framework %s: %s",
			ErrCoherenceFailed, record.Name, strings.Join(result.Issues, "; "))
	}
	return nil
}

// runCoherenceCall performs the model-backed coherence check.
func (o *Orchestrator) runCoherenceCall(ctx context.Context, input RunInput, framework []byte) (domain.CoherenceResult, error) {
	names := make([]string, len(input.Documents))
	for i, d := range input.Documents {
		names[i] = d.Name
	}
	system, user := o.prompts.Coherence(framework, input.Experiment, strings.Join(names, "\n"))

	modelID := o.cfg.Provider + "/" + o.cfg.Model
	resp, err := o.client.Do(ctx, &transport.Request{
		Operation:    transport.OpCoherence,
		Provider:     o.cfg.Provider,
		Model:        o.cfg.Model,
		SystemPrompt: system,
		Prompt:       user,
		RunID:        input.RunID,
	})
	if err != nil {
		return domain.CoherenceResult{Model: modelID}, err
	}

	var payload coherencePayload
	lowConfidence, err := extractJSON(resp.Content, &payload)
	if err != nil {
		return domain.CoherenceResult{Model: modelID}, err
	}

	confidence := clampConfidence(payload.Confidence)
	if lowConfidence {
		confidence = 0
	}
	return domain.CoherenceResult{
		Coherent:   payload.Coherent,
		Issues:     payload.Issues,
		Confidence: confidence,
		Model:      modelID,
		CheckedAt:  time.Now().UTC(),
	}, nil
}

// analysisPhase fans documents out over the bounded worker pool. Individual
// failures are recorded; crossing the failure-rate threshold cancels the
// remaining documents and halts the run.
func (o *Orchestrator) analysisPhase(ctx context.Context, input RunInput, state *runState) ([]domain.AnalysisResult, []domain.DocumentFailure, error) {
	timing, err := o.beginPhase(input.RunID, domain.PhaseAnalysis)
	if err != nil {
		return nil, nil, err
	}

	total := len(input.Documents)
	maxFailures := int(o.cfg.FailureRateThreshold * float64(total))

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan domain.Document)
	var (
		mu       sync.Mutex
		results  []domain.AnalysisResult
		failures []domain.DocumentFailure
	)

	workers := o.cfg.Concurrency
	if workers > total {
		workers = total
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range jobs {
				result, err := o.analyzeDocument(poolCtx, input, doc)

				mu.Lock()
				if err != nil {
					failures = append(failures, domain.DocumentFailure{
						Document: doc.Name,
						Reason:   err.Error(),
					})
					// Past this point the run cannot finish under the
					// threshold; stop paying for more calls.
					if len(failures) > maxFailures {
						cancel()
					}
				} else {
					results = append(results, result)
				}
				mu.Unlock()

				if auditErr := o.trail.Emit(input.RunID, domain.PhaseAnalysis, domain.EventDocumentAnalyzed, map[string]any{
					"document": doc.Name,
					"ok":       err == nil,
				}); auditErr != nil {
					o.logger.Error("failed to audit document analysis", "error", auditErr)
				}
			}
		}()
	}

	// Cooperative cancellation is checked between documents.
feed:
	for _, doc := range input.Documents {
		select {
		case jobs <- doc:
		case <-poolCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for _, r := range results {
		state.report.Documents = append(state.report.Documents, domain.DocumentStatus{
			Document: r.Document,
			Passed:   true,
		})
	}
	for _, f := range failures {
		state.report.Documents = append(state.report.Documents, domain.DocumentStatus{
			Document: f.Document,
			Passed:   false,
			Reason:   f.Reason,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if total > 0 && float64(len(failures))/float64(total) > o.cfg.FailureRateThreshold {
		timing.EndedAt = time.Now().UTC()
		state.report.Timings = append(state.report.Timings, timing)
		return nil, nil, fmt.Errorf("%w: %d of %d documents failed",
			ErrAnalysisHalted, len(failures), total)
	}

	if err := o.endPhase(state, timing); err != nil {
		return nil, nil, err
	}
	return results, failures, nil
}

// analyzeDocument runs the structured-extraction call for one document and
// persists the result as an artifact.
func (o *Orchestrator) analyzeDocument(ctx context.Context, input RunInput, doc domain.Document) (domain.AnalysisResult, error) {
	var zero domain.AnalysisResult

	frameworkContent := primaryFrameworkContent(input.Frameworks)
	system, user := o.prompts.Analysis(frameworkContent, doc)

	resp, err := o.client.Do(ctx, &transport.Request{
		Operation:      transport.OpAnalysis,
		Provider:       o.cfg.Provider,
		Model:          o.cfg.Model,
		SystemPrompt:   system,
		Prompt:         user,
		RunID:          input.RunID,
		IdempotencyKey: input.RunID + "/" + doc.Name,
	})
	if err != nil {
		return zero, err
	}

	var payload analysisPayload
	lowConfidence, err := extractJSON(resp.Content, &payload)
	if err != nil {
		return zero, fmt.Errorf("document %s: %w", doc.Name, err)
	}
	if len(payload.DimensionScores) == 0 {
		return zero, fmt.Errorf("document %s: %w", doc.Name, ErrNoStructuredContent)
	}

	result := domain.AnalysisResult{
		Document:        doc.Name,
		DimensionScores: payload.DimensionScores,
		Evidence:        payload.Evidence,
		Confidence:      clampConfidence(payload.Confidence),
		LowConfidence:   lowConfidence,
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("serialize analysis result: %w", err)
	}
	h, err := o.store.Put(ctx, raw)
	if err != nil {
		return zero, fmt.Errorf("persist analysis result: %w", err)
	}
	result.Artifact = artifact.Ref(h, len(raw), domain.ArtifactAnalysisResult)
	return result, nil
}

// consolidationPhase merges all successful document results. It is gated on
// every document outcome being known; by the time it runs the pool has
// joined.
func (o *Orchestrator) consolidationPhase(input RunInput, state *runState, results []domain.AnalysisResult, failures []domain.DocumentFailure) {
	timing := domain.PhaseTiming{Phase: domain.PhaseConsolidation, StartedAt: time.Now().UTC()}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range results {
		for dim, score := range r.DimensionScores {
			sums[dim] += score
			counts[dim]++
		}
	}
	means := make(map[string]float64, len(sums))
	for dim, sum := range sums {
		means[dim] = sum / float64(counts[dim])
	}

	state.consolidated = domain.ConsolidatedAnalysis{
		Results:        results,
		Failures:       failures,
		DimensionMeans: means,
		DocumentCount:  len(input.Documents),
		Succeeded:      len(results),
		Failed:         len(failures),
	}

	timing.EndedAt = time.Now().UTC()
	state.report.Timings = append(state.report.Timings, timing)
	if err := o.trail.Emit(input.RunID, domain.PhaseConsolidation, domain.EventPhaseCompleted, map[string]any{
		"succeeded": len(results),
		"failed":    len(failures),
	}); err != nil {
		o.logger.Error("failed to audit consolidation", "error", err)
	}
}

// synthesisPhase runs the analytical pass, optionally followed by the
// evidence-integration pass, and persists the result.
func (o *Orchestrator) synthesisPhase(ctx context.Context, input RunInput, state *runState) (*domain.SynthesisResult, error) {
	timing, err := o.beginPhase(input.RunID, domain.PhaseSynthesis)
	if err != nil {
		return nil, err
	}

	modelID := o.cfg.Provider + "/" + o.cfg.Model
	system, user := o.prompts.Synthesis(state.consolidated)
	resp, err := o.client.Do(ctx, &transport.Request{
		Operation:    transport.OpSynthesis,
		Provider:     o.cfg.Provider,
		Model:        o.cfg.Model,
		SystemPrompt: system,
		Prompt:       user,
		RunID:        input.RunID,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	result := domain.SynthesisResult{
		Narrative: resp.Content,
		Model:     modelID,
	}

	if o.cfg.EvidencePass {
		system, user = o.prompts.EvidenceIntegration(result.Narrative, state.consolidated)
		evResp, err := o.client.Do(ctx, &transport.Request{
			Operation:    transport.OpSynthesis,
			Provider:     o.cfg.Provider,
			Model:        o.cfg.Model,
			SystemPrompt: system,
			Prompt:       user,
			RunID:        input.RunID,
		})
		if err != nil {
			return nil, fmt.Errorf("evidence integration: %w", err)
		}
		result.EvidenceIntegration = evResp.Content
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("serialize synthesis result: %w", err)
	}
	h, err := o.store.Put(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("persist synthesis result: %w", err)
	}
	result.Artifact = artifact.Ref(h, len(raw), domain.ArtifactSynthesisResult)

	if err := o.endPhase(state, timing); err != nil {
		return nil, err
	}
	return &result, nil
}

// verificationPhase deterministically recomputes the dimension aggregates
// from the per-document results and compares them against the consolidated
// values. Divergence beyond tolerance is fatal.
func (o *Orchestrator) verificationPhase(input RunInput, state *runState) (*domain.VerificationResult, error) {
	timing, err := o.beginPhase(input.RunID, domain.PhaseVerification)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range state.consolidated.Results {
		for dim, score := range r.DimensionScores {
			sums[dim] += score
			counts[dim]++
		}
	}

	result := &domain.VerificationResult{
		Checked:   len(state.consolidated.DimensionMeans),
		Tolerance: o.cfg.Tolerance,
	}
	for dim, reported := range state.consolidated.DimensionMeans {
		count, ok := counts[dim]
		if !ok || count == 0 {
			result.Mismatches = append(result.Mismatches, domain.VerificationMismatch{
				Dimension: dim,
				Reported:  reported,
			})
			continue
		}
		recomputed := sums[dim] / float64(count)
		if math.Abs(recomputed-reported) > o.cfg.Tolerance {
			result.Mismatches = append(result.Mismatches, domain.VerificationMismatch{
				Dimension:  dim,
				Reported:   reported,
				Recomputed: recomputed,
			})
		}
	}

	if err := o.endPhase(state, timing); err != nil {
		return result, err
	}
	if !result.Passed() {
		return result, fmt.Errorf("%w: %d of %d aggregates diverged",
			ErrVerificationFailed, len(result.Mismatches), result.Checked)
	}
	return result, nil
}

// guidanceEntries extracts the report entries, tolerating a nil report.
func guidanceEntries(report *registry.GuidanceReport) []domain.FrameworkGuidance {
	if report == nil {
		return nil
	}
	return report.Entries
}

// frameworkKeyContent picks the cache-key bytes for a framework: the local
// working copy when the run supplied one, otherwise the registry content
// hash, which changes exactly when the registered content does.
func frameworkKeyContent(refs []domain.FrameworkRef, record domain.FrameworkVersion) []byte {
	for _, ref := range refs {
		if ref.Name == record.Name && ref.Content != nil {
			return ref.Content
		}
	}
	return []byte(record.ContentHash)
}

// primaryFrameworkContent returns the first framework's local content for
// the analysis prompt.
func primaryFrameworkContent(refs []domain.FrameworkRef) []byte {
	for _, ref := range refs {
		if ref.Content != nil {
			return ref.Content
		}
	}
	return nil
}

// corpusFingerprint length-frames every document name and body into one
// byte sequence, so renames and content edits both change the cache key and
// reordering documents does too.
func corpusFingerprint(docs []domain.Document) []byte {
	var out []byte
	var frame [8]byte
	for _, d := range docs {
		binary.BigEndian.PutUint64(frame[:], uint64(len(d.Name)))
		out = append(out, frame[:]...)
		out = append(out, d.Name...)
		binary.BigEndian.PutUint64(frame[:], uint64(len(d.Content)))
		out = append(out, frame[:]...)
		out = append(out, d.Content...)
	}
	return out
}
