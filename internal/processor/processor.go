package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lock-in/validator-node/internal/journal"
	"lock-in/validator-node/internal/judge"
	"lock-in/validator-node/internal/registry"
	"lock-in/validator-node/pkg/storage"
	"lock-in/validator-node/pkg/workflows"
)

// Adjudicator turns a goal and its proof into a verdict. It never fails.
type Adjudicator interface {
	Adjudicate(ctx context.Context, goal judge.Goal, proof storage.ProofPayload) judge.AdjudicationResult
}

// Config bounds the processor's network stages.
type Config struct {
	ValidatorID     string
	VoteTimeout     time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

// DefaultConfig returns conservative retry settings.
func DefaultConfig() Config {
	return Config{
		VoteTimeout:     30 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 10 * time.Second,
	}
}

// ReasoningArtifact is the auditable record uploaded before voting.
type ReasoningArtifact struct {
	RequestID             uint64    `json:"request_id"`
	GoalID                string    `json:"goal_id"`
	Validator             string    `json:"validator"`
	ProofRef              string    `json:"proof_ref"`
	Approved              bool      `json:"approved"`
	Confidence            int       `json:"confidence"`
	Reasoning             string    `json:"reasoning"`
	ManipulationSuspected bool      `json:"manipulation_detected"`
	Model                 string    `json:"model"`
	InferenceTimeMs       int64     `json:"inference_time_ms"`
	Degraded              bool      `json:"degraded"`
	ParsedBy              string    `json:"parsed_by"`
	CreatedAt             time.Time `json:"created_at"`
}

// Result is the terminal outcome of one processing attempt.
type Result struct {
	RequestID    uint64
	AttemptID    string
	Stage        workflows.Stage
	Adjudication *judge.AdjudicationResult
	ReasoningRef string
	Ack          *registry.VoteAck
	Err          error
	Reason       string
	History      []workflows.Transition
	Duration     time.Duration
}

// Succeeded reports whether the vote was accepted.
func (r Result) Succeeded() bool { return r.Stage == workflows.StageDone }

// Aborted reports whether the attempt stopped for shutdown. An aborted
// request is neither journaled nor counted; the next run picks it up again.
func (r Result) Aborted() bool { return errors.Is(r.Err, ErrShutdown) }

// Processor drives one request through fetch, adjudicate, publish and vote.
type Processor struct {
	store    storage.IPFSClient
	judge    Adjudicator
	registry registry.Registry
	journal  journal.Journal
	guard    *InFlight
	sm       *workflows.StateMachine
	config   Config
	logger   *zap.Logger
	draining atomic.Bool
}

// New creates a processor. guard may be shared with the discovery loop.
func New(store storage.IPFSClient, adjudicator Adjudicator, reg registry.Registry, j journal.Journal, guard *InFlight, config Config, logger *zap.Logger) *Processor {
	defaults := DefaultConfig()
	if config.VoteTimeout <= 0 {
		config.VoteTimeout = defaults.VoteTimeout
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.RetryMaxBackoff < config.RetryBackoff {
		config.RetryMaxBackoff = config.RetryBackoff * 10
	}
	if j == nil {
		j = journal.NewMemory()
	}
	if guard == nil {
		guard = NewInFlight()
	}
	return &Processor{
		store:    store,
		judge:    adjudicator,
		registry: reg,
		journal:  j,
		guard:    guard,
		sm:       workflows.NewStateMachine(),
		config:   config,
		logger:   logger,
	}
}

// Guard returns the in-flight set.
func (p *Processor) Guard() *InFlight { return p.guard }

// Drain makes in-flight requests stop after their current stage.
func (p *Processor) Drain() { p.draining.Store(true) }

// Handle acquires the guard for req and processes it. It returns false
// without doing any work if req is already in flight.
func (p *Processor) Handle(ctx context.Context, req registry.VerificationRequest) (Result, bool) {
	if !p.guard.TryAcquire(req.ID) {
		p.logger.Debug("Request already in flight, dropping discovery", zap.Uint64("request_id", req.ID))
		return Result{RequestID: req.ID, Stage: workflows.StageDiscovered}, false
	}
	return p.Process(ctx, req), true
}

// Process runs req to a terminal stage. The caller must hold the guard for
// req.ID; it is released on return.
func (p *Processor) Process(ctx context.Context, req registry.VerificationRequest) Result {
	defer p.guard.Release(req.ID)

	start := time.Now()
	tracker := workflows.NewTracker(p.sm)
	res := Result{RequestID: req.ID, AttemptID: uuid.NewString()}
	log := p.logger.With(
		zap.Uint64("request_id", req.ID),
		zap.String("goal_id", req.GoalID),
		zap.String("attempt_id", res.AttemptID))

	err := p.run(ctx, req, tracker, &res, log)
	if err != nil {
		tracker.Fail(err.Error())
		res.Err = err
	}
	res.Stage = tracker.Current()
	res.Reason = tracker.FailureReason()
	res.History = tracker.History()
	res.Duration = time.Since(start)

	if res.Aborted() {
		log.Info("Request abandoned for shutdown", zap.String("stage", string(err.Stage)))
		return res
	}
	if err != nil {
		log.Error("Request processing failed", zap.String("stage", string(err.Stage)), zap.String("reason", res.Reason))
	}
	p.record(ctx, req, res, log)
	if res.Succeeded() {
		log.Info("Request processed",
			zap.Bool("approved", res.Adjudication.Approved),
			zap.Int("confidence", res.Adjudication.Confidence),
			zap.String("reasoning_ref", res.ReasoningRef),
			zap.Duration("duration", res.Duration))
	}
	return res
}

func (p *Processor) run(ctx context.Context, req registry.VerificationRequest, tracker *workflows.Tracker, res *Result, log *zap.Logger) *StageError {
	if err := p.enter(ctx, tracker, workflows.StageFetching); err != nil {
		return err
	}
	fetched, err := p.store.Fetch(ctx, req.ProofRef)
	if err != nil {
		return stageErr(workflows.StageFetching, ErrRetrievalFailure, err)
	}
	if len(fetched.FailedAttempts) > 0 {
		log.Info("Proof retrieved after gateway fallback",
			zap.String("gateway", fetched.Gateway),
			zap.Int("failed_attempts", len(fetched.FailedAttempts)))
	}
	goal, err := withRetry(ctx, p.config, log, "get_goal", func() (*registry.Goal, error) {
		return p.registry.GetGoal(ctx, req.GoalID)
	})
	if err != nil {
		return stageErr(workflows.StageFetching, classify(err, ErrRetrievalFailure), err)
	}

	if err := p.enter(ctx, tracker, workflows.StageAdjudicating); err != nil {
		return err
	}
	verdict := p.judge.Adjudicate(ctx, judge.Goal{
		ID:          goal.ID,
		Title:       goal.Title,
		Description: goal.Description,
		GoalType:    goal.GoalType,
		Target:      goal.Target,
	}, *fetched.Payload)
	verdict.Confidence = judge.ClampConfidence(verdict.Confidence)
	res.Adjudication = &verdict

	if err := p.enter(ctx, tracker, workflows.StagePublishingReasoning); err != nil {
		return err
	}
	artifact := ReasoningArtifact{
		RequestID:             req.ID,
		GoalID:                req.GoalID,
		Validator:             p.config.ValidatorID,
		ProofRef:              req.ProofRef,
		Approved:              verdict.Approved,
		Confidence:            verdict.Confidence,
		Reasoning:             verdict.Reasoning,
		ManipulationSuspected: verdict.ManipulationSuspected,
		Model:                 verdict.Model,
		InferenceTimeMs:       verdict.InferenceTime.Milliseconds(),
		Degraded:              verdict.Degraded,
		ParsedBy:              verdict.ParsedBy,
		CreatedAt:             time.Now().UTC(),
	}
	ref, err := withRetry(ctx, p.config, log, "upload_reasoning", func() (string, error) {
		hash, err := p.store.Upload(ctx, artifact)
		if errors.Is(err, storage.ErrNoUploadBackend) {
			return "", backoff.Permanent(err)
		}
		return hash, err
	})
	if err != nil {
		return stageErr(workflows.StagePublishingReasoning, ErrTransportFailure, err)
	}
	res.ReasoningRef = ref

	if err := p.enter(ctx, tracker, workflows.StageVoting); err != nil {
		return err
	}
	ack, err := p.vote(ctx, req.ID, verdict, ref, log)
	if err != nil {
		return stageErr(workflows.StageVoting, classify(err, ErrVoteRejected), err)
	}
	res.Ack = ack

	if err := tracker.Advance(workflows.StageDone); err != nil {
		return stageErr(workflows.StageVoting, ErrVoteRejected, err)
	}
	return nil
}

// enter advances to stage unless the node is shutting down.
func (p *Processor) enter(ctx context.Context, tracker *workflows.Tracker, stage workflows.Stage) *StageError {
	if p.draining.Load() {
		return stageErr(tracker.Current(), ErrShutdown, nil)
	}
	if err := ctx.Err(); err != nil {
		return stageErr(tracker.Current(), ErrShutdown, err)
	}
	if err := tracker.Advance(stage); err != nil {
		return stageErr(tracker.Current(), ErrTransportFailure, err)
	}
	return nil
}

// vote casts the ballot, retrying transport failures only. An already-voted
// rejection that follows a lost response means an earlier attempt landed.
func (p *Processor) vote(ctx context.Context, requestID uint64, verdict judge.AdjudicationResult, ref string, log *zap.Logger) (*registry.VoteAck, error) {
	transportFailed := false
	ack, err := withRetry(ctx, p.config, log, "cast_vote", func() (*registry.VoteAck, error) {
		vctx, cancel := context.WithTimeout(ctx, p.config.VoteTimeout)
		defer cancel()
		ack, err := p.registry.CastVote(vctx, requestID, verdict.Approved, verdict.Confidence, ref)
		if err == nil {
			return ack, nil
		}
		if registry.IsRetryable(err) {
			transportFailed = true
			return nil, err
		}
		return nil, backoff.Permanent(err)
	})
	if err != nil && transportFailed && errors.Is(err, registry.ErrAlreadyVoted) {
		log.Info("Vote already recorded by an earlier attempt")
		return &registry.VoteAck{RequestID: requestID, ValidatorID: p.config.ValidatorID}, nil
	}
	return ack, err
}

func (p *Processor) record(ctx context.Context, req registry.VerificationRequest, res Result, log *zap.Logger) {
	entry := &journal.Entry{
		RequestID:    req.ID,
		ValidatorID:  p.config.ValidatorID,
		GoalID:       req.GoalID,
		AttemptID:    res.AttemptID,
		Outcome:      journal.OutcomeDone,
		ReasoningRef: res.ReasoningRef,
	}
	if res.Adjudication != nil {
		entry.Approved = res.Adjudication.Approved
		entry.Confidence = res.Adjudication.Confidence
		entry.Degraded = res.Adjudication.Degraded
	}
	var se *StageError
	if errors.As(res.Err, &se) {
		entry.Outcome = journal.OutcomeFailed
		if errors.Is(se, ErrVoteRejected) {
			entry.Outcome = journal.OutcomeRejected
		}
		entry.FailureStage = string(se.Stage)
		entry.FailureReason = res.Reason
	}

	// Journal writes outlive a cancelled processing context.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.journal.Record(rctx, entry); err != nil {
		log.Warn("Failed to journal request outcome", zap.Error(err))
	}
}

// classify maps a registry error onto a failure kind.
func classify(err, rejection error) error {
	if registry.IsRejection(err) {
		return rejection
	}
	return ErrTransportFailure
}

func withRetry[T any](ctx context.Context, cfg Config, log *zap.Logger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryBackoff
	b.MaxInterval = cfg.RetryMaxBackoff

	var perm *backoff.PermanentError
	out, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.As(err, &perm) && registry.IsRejection(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.RetryAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("Transient failure, retrying",
				zap.String("operation", op),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}))

	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return out, err
}
