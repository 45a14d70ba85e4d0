package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/edforge/edforge-backend/internal/agents"
	"github.com/edforge/edforge-backend/internal/cache"
	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/prompts"
	"github.com/edforge/edforge-backend/internal/repos"
	"github.com/edforge/edforge-backend/internal/types"
)

// ErrAlreadyProcessing is returned when a run is requested for a generation
// that is already claimed by another run.
var ErrAlreadyProcessing = errors.New("generation is already processing")

const stoppedByUserMessage = "Stopped by user"

// Config carries the orchestration knobs. The review loop bound and accept
// score exist as one canonical pair here; nothing else in the codebase may
// define them.
type Config struct {
	MaxRefinePasses int           // review/refine iterations, default 2
	AcceptScore     float64       // reviewer score that ends the loop, default 8.0
	RunTimeout      time.Duration // whole-pipeline bound, default 5m
	FlushInterval   time.Duration // chunk coalescing window, default 150ms
	CostModel       string        // model name used for pricing estimates
}

func (c Config) withDefaults() Config {
	if c.MaxRefinePasses <= 0 {
		c.MaxRefinePasses = 2
	}
	if c.AcceptScore <= 0 {
		c.AcceptScore = 8.0
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 150 * time.Millisecond
	}
	return c
}

// Orchestrator drives one generation through its stage plan: run agent,
// checkpoint, update progress, log, emit — strictly in that order, so a
// resume can never observe progress ahead of its backing checkpoint.
type Orchestrator struct {
	log *logger.Logger
	cfg Config

	gens        repos.GenerationRepo
	checkpoints repos.CheckpointRepo
	logs        repos.GenerationLogRepo
	notify      Notifier

	detector  *agents.CourseDetector
	analyzer  *agents.Analyzer
	creator   *agents.Creator
	sanitizer *agents.Sanitizer
	reviewer  *agents.Reviewer
	refiner   *agents.Refiner
	formatter *agents.Formatter

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

func New(
	baseLog *logger.Logger,
	cfg Config,
	gens repos.GenerationRepo,
	checkpoints repos.CheckpointRepo,
	logs repos.GenerationLogRepo,
	notify Notifier,
	client llm.Client,
	courseCache *cache.Semantic,
	gapCache *cache.Semantic,
) *Orchestrator {
	cfg = cfg.withDefaults()
	log := baseLog.With("component", "Orchestrator")
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Orchestrator{
		log:         log,
		cfg:         cfg,
		gens:        gens,
		checkpoints: checkpoints,
		logs:        logs,
		notify:      notify,
		detector:    agents.NewCourseDetector(baseLog, client, courseCache),
		analyzer:    agents.NewAnalyzer(baseLog, client, gapCache),
		creator:     agents.NewCreator(baseLog, client),
		sanitizer:   agents.NewSanitizer(baseLog, client),
		reviewer:    agents.NewReviewer(baseLog, client, cfg.AcceptScore),
		refiner:     agents.NewRefiner(baseLog, client),
		formatter:   agents.NewFormatter(baseLog, client),
		active:      make(map[uuid.UUID]context.CancelFunc),
	}
}

// Stop cancels the active run for a generation, if any.
func (o *Orchestrator) Stop(generationID uuid.UUID) bool {
	o.mu.Lock()
	cancel, ok := o.active[generationID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a run for this generation is active in-process.
func (o *Orchestrator) Running(generationID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[generationID]
	return ok
}

func (o *Orchestrator) register(id uuid.UUID, cancel context.CancelFunc) {
	o.mu.Lock()
	o.active[id] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(id uuid.UUID) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// run is the per-execution working state.
type run struct {
	gen         *types.Generation
	plan        Plan
	in          agents.Input
	content     string
	assignment  *types.Assignment
	cost        float64
	stageTokens map[string]llm.Usage
}

// Run executes (or resumes) the pipeline for one generation. It returns
// ErrAlreadyProcessing if the row is claimed elsewhere; every other outcome
// is persisted on the row and reported through events, so the returned
// error is informational.
func (o *Orchestrator) Run(parent context.Context, generationID uuid.UUID) error {
	claimed, err := o.gens.MarkProcessing(parent, nil, generationID)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadyProcessing
	}

	gen, err := o.gens.GetByID(parent, nil, generationID)
	if err != nil || gen == nil {
		if err == nil {
			err = fmt.Errorf("generation %s not found", generationID)
		}
		// The claim above already flipped the row to processing. Release it,
		// otherwise the generation can never be retried or stopped.
		if uerr := o.gens.UpdateFields(parent, nil, generationID, map[string]any{
			"status": types.GenerationStatusFailed,
			"error":  err.Error(),
		}); uerr != nil {
			o.log.Error("could not release processing claim",
				"generation_id", generationID.String(), "error", uerr)
		}
		return err
	}

	ctx, cancel := context.WithTimeout(parent, o.cfg.RunTimeout)
	o.register(gen.ID, cancel)
	defer func() {
		o.unregister(gen.ID)
		cancel()
	}()

	log := o.log.With("generation_id", gen.ID.String())
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "generation.run")
	span.SetAttributes(
		attribute.String("generation.id", gen.ID.String()),
		attribute.String("generation.mode", gen.Mode),
		attribute.Bool("generation.has_transcript", gen.HasTranscript()),
	)
	defer span.End()

	r := &run{
		gen:         gen,
		plan:        PlanStages(gen.Mode, gen.HasTranscript()),
		cost:        gen.CostUSD,
		stageTokens: map[string]llm.Usage{},
	}
	r.in = agents.Input{
		Topic:      gen.Topic,
		Subtopics:  prompts.SplitSubtopics(gen.Subtopics),
		Mode:       gen.Mode,
		Transcript: gen.Transcript,
		Counts: types.AssignmentCounts{
			SingleCorrect: gen.SingleCorrect,
			MultiCorrect:  gen.MultiCorrect,
			Subjective:    gen.SubjectiveCount,
		},
	}
	restoreStageTokens(gen, r)
	restoreContexts(gen, r)

	startIdx := o.resumeIndex(ctx, r, log)

	for i := startIdx; i < len(r.plan.Stages); i++ {
		if err := ctx.Err(); err != nil {
			return o.halt(parent, r, r.plan.Stages[i], err, log)
		}

		stage := r.plan.Stages[i]
		stageCtx, stageSpan := tracer.Start(ctx, "stage."+string(stage))

		o.stageStarted(ctx, r, stage)

		var stageErr error
		var mismatch bool
		switch stage {
		case StageCourseDetection:
			stageErr = o.runCourseDetection(stageCtx, r)
		case StageGapAnalysis:
			mismatch, stageErr = o.runGapAnalysis(stageCtx, r)
		case StageDraft:
			stageErr = o.runDraft(stageCtx, r)
		case StageSanitize:
			stageErr = o.runSanitize(stageCtx, r)
		case StageReview:
			// The review/refine loop consumes both plan entries.
			stageErr = o.runReviewLoop(stageCtx, r, i)
			if stageErr == nil {
				i++ // refinement's checkpoint/progress were written inside the loop
			}
		case StageRefine:
			// Only reachable when resuming directly into refinement; the
			// loop normally consumes it. Re-run review+refine from here.
			stageErr = o.runReviewLoop(stageCtx, r, i-1)
		case StageFormat:
			stageErr = o.runFormat(stageCtx, r)
		default:
			stageErr = fmt.Errorf("unknown stage %q", stage)
		}
		stageSpan.End()

		if stageErr != nil {
			return o.halt(parent, r, stage, stageErr, log)
		}
		if mismatch {
			return o.mismatchStop(parent, r, i)
		}
		if stage != StageReview && stage != StageRefine {
			if err := o.completeStage(ctx, r, stage, i); err != nil {
				return o.halt(parent, r, stage, err, log)
			}
		}
	}

	return o.complete(parent, r, log)
}

// resumeIndex picks the first stage to run, honoring the newest checkpoint.
func (o *Orchestrator) resumeIndex(ctx context.Context, r *run, log *logger.Logger) int {
	cp, err := o.checkpoints.GetLatestByGenerationID(ctx, nil, r.gen.ID)
	if err != nil {
		log.Warn("checkpoint lookup failed, starting from scratch", "error", err)
		return 0
	}
	if cp == nil {
		return 0
	}
	idx := r.plan.IndexOf(Stage(cp.StepName))
	if idx < 0 {
		log.Warn("checkpoint stage not in plan, starting from scratch", "step", cp.StepName)
		return 0
	}
	r.content = cp.Content
	r.in.Content = cp.Content
	log.Info("resuming from checkpoint", "step", cp.StepName, "step_number", cp.StepNumber)
	return idx + 1
}

func restoreContexts(gen *types.Generation, r *run) {
	if len(gen.CourseContext) > 0 {
		var cc types.CourseContext
		if err := json.Unmarshal(gen.CourseContext, &cc); err == nil && cc.Domain != "" {
			r.in.Course = &cc
		}
	}
	if len(gen.GapAnalysis) > 0 {
		var gap types.GapAnalysisResult
		if err := json.Unmarshal(gen.GapAnalysis, &gap); err == nil {
			r.in.Gap = &gap
		}
	}
}

func restoreStageTokens(gen *types.Generation, r *run) {
	if len(gen.StageTokens) == 0 {
		return
	}
	_ = json.Unmarshal(gen.StageTokens, &r.stageTokens)
}

// ---------------------------------------------------------------- stages

func (o *Orchestrator) runCourseDetection(ctx context.Context, r *run) error {
	cc, usage, err := o.detector.Run(ctx, r.in)
	if err != nil {
		return err
	}
	r.in.Course = cc
	o.addUsage(r, StageCourseDetection, usage)

	raw, _ := json.Marshal(cc)
	_ = o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"course_context": datatypes.JSON(raw),
	})
	o.notify.Emit(ctx, Event{
		Kind:         EventCourseDetected,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(StageCourseDetection),
		Agent:        agents.NameCourseDetector,
		Message:      fmt.Sprintf("Detected domain: %s", cc.Domain),
		Data:         map[string]any{"course_context": cc},
	})
	return nil
}

func (o *Orchestrator) runGapAnalysis(ctx context.Context, r *run) (bool, error) {
	gap, usage, err := o.analyzer.Run(ctx, r.in)
	if err != nil {
		return false, err
	}
	r.in.Gap = gap
	o.addUsage(r, StageGapAnalysis, usage)

	raw, _ := json.Marshal(gap)
	_ = o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"gap_analysis": datatypes.JSON(raw),
	})
	o.notify.Emit(ctx, Event{
		Kind:         EventGapAnalysis,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(StageGapAnalysis),
		Agent:        agents.NameAnalyzer,
		Message: fmt.Sprintf("Coverage: %d covered, %d partial, %d missing",
			len(gap.Covered), len(gap.PartiallyCovered), len(gap.NotCovered)),
		Data: map[string]any{"gap_analysis": gap},
	})
	return gap.Mismatch, nil
}

func (o *Orchestrator) runDraft(ctx context.Context, r *run) error {
	buf := newChunkBuffer(o.cfg.FlushInterval, func(chunk string) {
		o.notify.Emit(ctx, Event{
			Kind:         EventChunk,
			GenerationID: r.gen.ID,
			UserID:       r.gen.UserID,
			Stage:        string(StageDraft),
			Agent:        agents.NameCreator,
			Chunk:        chunk,
		})
	})
	content, usage, err := o.creator.Run(ctx, r.in, buf.Add)
	// Close before anything downstream so no chunk trails later events.
	buf.Close()
	if err != nil {
		return err
	}
	r.content = content
	r.in.Content = content
	o.addUsage(r, StageDraft, usage)
	return nil
}

func (o *Orchestrator) runSanitize(ctx context.Context, r *run) error {
	content, usage, err := o.sanitizer.Run(ctx, r.in)
	if err != nil {
		return err
	}
	if content != r.content {
		r.content = content
		r.in.Content = content
		o.emitReplace(ctx, r, StageSanitize, agents.NameSanitizer)
	}
	o.addUsage(r, StageSanitize, usage)
	return nil
}

// runReviewLoop drives the bounded review ⇄ refine loop. reviewIdx is the
// plan index of the review stage; the refinement entry directly follows it.
func (o *Orchestrator) runReviewLoop(ctx context.Context, r *run, reviewIdx int) error {
	for pass := 0; pass < o.cfg.MaxRefinePasses; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		review, usage, err := o.reviewer.Run(ctx, r.in)
		if err != nil {
			return err
		}
		o.addUsage(r, StageReview, usage)
		o.appendLog(ctx, r, types.LogTypeInfo, agents.NameReviewer,
			fmt.Sprintf("Review pass %d: score %.1f", pass+1, review.Score))

		if !review.NeedsPolish || review.Score >= o.cfg.AcceptScore {
			break
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		res, usage, err := o.refiner.Run(ctx, r.in, review)
		if err != nil {
			return err
		}
		o.addUsage(r, StageRefine, usage)
		if res.NoChanges {
			o.appendLog(ctx, r, types.LogTypeInfo, agents.NameRefiner, "No changes needed")
			break
		}
		if res.Skipped > 0 {
			o.appendLog(ctx, r, types.LogTypeWarning, agents.NameRefiner,
				fmt.Sprintf("Skipped %d unmatched edit(s)", res.Skipped))
		}
		if res.Changed {
			r.content = res.Content
			r.in.Content = res.Content
			o.emitReplace(ctx, r, StageRefine, agents.NameRefiner)
		}
	}

	// Checkpoint and progress for both plan entries, so progress always
	// passes through refinement's weight even when no edits were applied.
	if err := o.completeStage(ctx, r, StageReview, reviewIdx); err != nil {
		return err
	}
	return o.completeStage(ctx, r, StageRefine, reviewIdx+1)
}

func (o *Orchestrator) runFormat(ctx context.Context, r *run) error {
	out, usage, err := o.formatter.Run(ctx, r.in)
	if err != nil {
		return err
	}
	r.assignment = out
	o.addUsage(r, StageFormat, usage)

	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	r.content = string(raw)
	r.in.Content = r.content
	_ = o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"assignment_json": datatypes.JSON(raw),
	})
	o.notify.Emit(ctx, Event{
		Kind:         EventFormatted,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(StageFormat),
		Agent:        agents.NameFormatter,
		Message:      fmt.Sprintf("Formatted %d questions", len(out.Questions)),
		Data:         map[string]any{"assignment": out},
	})
	return nil
}

// ---------------------------------------------------------- bookkeeping

func (o *Orchestrator) addUsage(r *run, stage Stage, usage llm.Usage) {
	if usage == (llm.Usage{}) {
		return
	}
	r.stageTokens[string(stage)] = r.stageTokens[string(stage)].Add(usage)
	r.cost += llm.CostUSD(o.cfg.CostModel, usage)
}

func (o *Orchestrator) stageStarted(ctx context.Context, r *run, stage Stage) {
	agent := stage.AgentName()
	msg := fmt.Sprintf("%s started", agent)
	_ = o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"stage":         string(stage),
		"current_agent": agent,
		"message":       msg,
	})
	o.appendLog(ctx, r, types.LogTypeInfo, agent, msg)
	o.notify.Emit(ctx, Event{
		Kind:         EventStep,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(stage),
		Agent:        agent,
		Message:      msg,
		Progress:     r.gen.Progress,
	})
}

// completeStage persists the checkpoint, then progress, then the log row,
// then emits the step event — in that order, always.
func (o *Orchestrator) completeStage(ctx context.Context, r *run, stage Stage, idx int) error {
	cp, err := o.checkpoints.Create(ctx, nil, &types.Checkpoint{
		GenerationID: r.gen.ID,
		StepName:     string(stage),
		StepNumber:   idx + 1,
		Content:      r.content,
	})
	if err != nil {
		return fmt.Errorf("persist checkpoint for %s: %w", stage, err)
	}

	progress := r.plan.ProgressAfter(idx)
	agent := stage.AgentName()
	msg := fmt.Sprintf("%s finished", agent)
	tokens, _ := json.Marshal(r.stageTokens)
	if err := o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"progress":         progress,
		"message":          msg,
		"stage":            string(stage),
		"current_agent":    agent,
		"last_step":        string(stage),
		"last_step_number": idx + 1,
		"resume_token":     cp.ID.String(),
		"cost_usd":         r.cost,
		"stage_tokens":     datatypes.JSON(tokens),
	}); err != nil {
		return fmt.Errorf("persist progress for %s: %w", stage, err)
	}
	r.gen.Progress = progress

	o.appendLog(ctx, r, types.LogTypeStep, agent, msg)
	o.notify.Emit(ctx, Event{
		Kind:         EventStep,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(stage),
		Agent:        agent,
		Message:      msg,
		Progress:     progress,
	})
	return nil
}

func (o *Orchestrator) emitReplace(ctx context.Context, r *run, stage Stage, agent string) {
	o.notify.Emit(ctx, Event{
		Kind:         EventReplace,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(stage),
		Agent:        agent,
		Content:      r.content,
	})
}

func (o *Orchestrator) appendLog(ctx context.Context, r *run, logType, agent, message string) {
	if _, err := o.logs.Append(ctx, nil, &types.GenerationLog{
		GenerationID: r.gen.ID,
		Message:      message,
		Type:         logType,
		Agent:        agent,
	}); err != nil {
		o.log.Warn("log append failed", "generation_id", r.gen.ID.String(), "error", err)
	}
}

// ------------------------------------------------------------- terminals

// halt decides between user stop, timeout and genuine failure. The parent
// context is used for persistence because the run context is already dead.
func (o *Orchestrator) halt(parent context.Context, r *run, stage Stage, cause error, log *logger.Logger) error {
	kind := llm.KindOf(cause)
	switch kind {
	case llm.KindAborted:
		return o.stopped(parent, r, stage)
	case llm.KindTimeout:
		cause = fmt.Errorf("generation timed out after %s", o.cfg.RunTimeout)
	}
	log.Error("pipeline failed", "stage", string(stage), "error", cause.Error())
	return o.failed(parent, r, stage, cause)
}

func (o *Orchestrator) stopped(ctx context.Context, r *run, stage Stage) error {
	// Guard on processing so a concurrent terminal write is never clobbered.
	_, _ = o.gens.UpdateFieldsUnlessStatus(ctx, nil, r.gen.ID,
		[]string{types.GenerationStatusCompleted, types.GenerationStatusFailed},
		map[string]any{
			"status":   types.GenerationStatusStopped,
			"message":  stoppedByUserMessage,
			"stage":    string(stage),
			"cost_usd": r.cost,
		})
	o.appendLog(ctx, r, types.LogTypeWarning, stage.AgentName(), stoppedByUserMessage)
	o.notify.Emit(ctx, Event{
		Kind:         EventStep,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(stage),
		Agent:        stage.AgentName(),
		Message:      stoppedByUserMessage,
		Progress:     r.gen.Progress,
	})
	return nil
}

func (o *Orchestrator) failed(ctx context.Context, r *run, stage Stage, cause error) error {
	msg := cause.Error()
	_ = o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"status":   types.GenerationStatusFailed,
		"error":    msg,
		"message":  "",
		"stage":    string(stage),
		"cost_usd": r.cost,
	})
	o.appendLog(ctx, r, types.LogTypeError, stage.AgentName(), msg)
	o.notify.Emit(ctx, Event{
		Kind:         EventError,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(stage),
		Agent:        stage.AgentName(),
		Message:      msg,
		Progress:     r.gen.Progress,
	})
	return cause
}

// mismatchStop pauses the pipeline: the transcript does not discuss the
// requested topic and the user must decide how to proceed. The gap-analysis
// checkpoint is written first so a retry resumes past analysis.
func (o *Orchestrator) mismatchStop(ctx context.Context, r *run, idx int) error {
	if err := o.completeStage(ctx, r, StageGapAnalysis, idx); err != nil {
		return err
	}
	msg := "Transcript does not match the requested topic"
	_ = o.gens.UpdateFields(ctx, nil, r.gen.ID, map[string]any{
		"status":   types.GenerationStatusMismatch,
		"message":  msg,
		"cost_usd": r.cost,
	})
	o.appendLog(ctx, r, types.LogTypeWarning, agents.NameAnalyzer, msg)
	o.notify.Emit(ctx, Event{
		Kind:         EventMismatchStop,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Stage:        string(StageGapAnalysis),
		Agent:        agents.NameAnalyzer,
		Message:      msg,
		Progress:     r.gen.Progress,
		Data:         map[string]any{"gap_analysis": r.in.Gap},
	})
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run, log *logger.Logger) error {
	tokens, _ := json.Marshal(r.stageTokens)
	updates := map[string]any{
		"status":        types.GenerationStatusCompleted,
		"progress":      100,
		"message":       "Generation complete",
		"current_agent": "",
		"content":       r.content,
		"cost_usd":      r.cost,
		"stage_tokens":  datatypes.JSON(tokens),
		"error":         "",
	}
	if err := o.gens.UpdateFields(ctx, nil, r.gen.ID, updates); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	o.appendLog(ctx, r, types.LogTypeSuccess, "", "Generation complete")
	o.notify.Emit(ctx, Event{
		Kind:         EventComplete,
		GenerationID: r.gen.ID,
		UserID:       r.gen.UserID,
		Message:      "Generation complete",
		Content:      r.content,
		Progress:     100,
		CostUSD:      r.cost,
	})
	log.Info("generation completed", "cost_usd", r.cost)
	return nil
}
