package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lock-in/validator-node/internal/journal"
	"lock-in/validator-node/internal/processor"
	"lock-in/validator-node/internal/registry"
)

// ErrShutdownTimeout is returned by Run when workers outlive the grace period.
var ErrShutdownTimeout = errors.New("shutdown grace period exceeded")

// Subscriber streams newly created requests. The registry client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, validatorID string, out chan<- registry.VerificationRequest) error
}

// Config sizes the node.
type Config struct {
	PollInterval  time.Duration
	Workers       int
	QueueSize     int
	ShutdownGrace time.Duration
	HealthCheck   string
}

// DefaultConfig returns the node defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  10 * time.Second,
		Workers:       4,
		QueueSize:     64,
		ShutdownGrace: 5 * time.Second,
		HealthCheck:   "@every 30s",
	}
}

// Node discovers requests this validator was selected for and feeds them to
// a fixed pool of workers.
type Node struct {
	registry   registry.Registry
	subscriber Subscriber
	proc       *processor.Processor
	journal    journal.Journal
	state      *State
	health     *HealthChecker
	queue      chan registry.VerificationRequest
	config     Config
	logger     *zap.Logger
	workers    sync.WaitGroup
}

// NewNode wires a node. subscriber and j may be nil.
func NewNode(reg registry.Registry, subscriber Subscriber, proc *processor.Processor, j journal.Journal, state *State, config Config, logger *zap.Logger) *Node {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}
	if config.HealthCheck == "" {
		config.HealthCheck = defaults.HealthCheck
	}
	if j == nil {
		j = journal.NewMemory()
	}
	return &Node{
		registry:   reg,
		subscriber: subscriber,
		proc:       proc,
		journal:    j,
		state:      state,
		health:     NewHealthChecker(reg, state, logger),
		queue:      make(chan registry.VerificationRequest, config.QueueSize),
		config:     config,
		logger:     logger.With(zap.String("validator", state.Address())),
	}
}

// State returns the node state.
func (n *Node) State() *State { return n.state }

// Health returns the current health report.
func (n *Node) Health() HealthReport { return n.state.Health() }

// Stats returns the current counters.
func (n *Node) Stats() StatsReport {
	return n.state.Stats(n.proc.Guard().Len(), len(n.queue))
}

// Run blocks until ctx is cancelled, then drains: no new dispatches, in-flight
// requests stop after their current stage, and workers get ShutdownGrace to
// return before their context is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if err := n.health.Start(ctx, n.config.HealthCheck); err != nil {
		return err
	}
	defer n.health.Stop()

	if counts, err := n.journal.Counts(ctx, n.state.Address()); err != nil {
		n.logger.Warn("Failed to restore journal totals", zap.Error(err))
	} else {
		n.state.Restore(*counts)
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	for i := 0; i < n.config.Workers; i++ {
		n.workers.Add(1)
		go n.worker(workCtx, i)
	}

	n.logger.Info("Validator node started",
		zap.Int("workers", n.config.Workers),
		zap.Int("queue_size", n.config.QueueSize),
		zap.Duration("poll_interval", n.config.PollInterval),
		zap.Bool("subscribed", n.subscriber != nil))

	events := make(chan registry.VerificationRequest, n.config.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	if n.subscriber != nil {
		g.Go(func() error {
			return n.subscriber.Subscribe(gctx, n.state.Address(), events)
		})
	}
	g.Go(func() error {
		n.discover(gctx, events)
		return nil
	})
	loopErr := g.Wait()

	n.logger.Info("Shutting down validator node", zap.Duration("grace", n.config.ShutdownGrace))
	n.proc.Drain()
	close(n.queue)

	done := make(chan struct{})
	go func() {
		n.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Validator node stopped")
	case <-time.After(n.config.ShutdownGrace):
		cancelWork()
		n.logger.Warn("Shutdown grace exceeded, abandoning in-flight requests",
			zap.Int("in_flight", n.proc.Guard().Len()))
		return ErrShutdownTimeout
	}
	if loopErr != nil {
		return fmt.Errorf("discovery stopped: %w", loopErr)
	}
	return nil
}

// discover is the only sender on the work queue.
func (n *Node) discover(ctx context.Context, events <-chan registry.VerificationRequest) {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	n.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.poll(ctx)
		case req := <-events:
			n.Dispatch(ctx, req)
		}
	}
}

func (n *Node) poll(ctx context.Context) {
	pending, err := n.registry.ListPendingFor(ctx, n.state.Address())
	if err != nil {
		if ctx.Err() == nil {
			n.logger.Warn("Failed to poll pending requests", zap.Error(err))
		}
		return
	}
	dispatched := 0
	for _, req := range pending {
		if n.Dispatch(ctx, req) {
			dispatched++
		}
	}
	if dispatched > 0 {
		n.logger.Debug("Dispatched pending requests", zap.Int("count", dispatched))
	}
}

// Dispatch enqueues req if this validator should work on it now. It never
// blocks: a full queue drops the discovery for the next poll to pick up.
func (n *Node) Dispatch(ctx context.Context, req registry.VerificationRequest) bool {
	id := n.state.Address()
	if !req.IsSelected(id) || !req.IsOpen(time.Now()) || req.HasVoted(id) {
		return false
	}
	entry, err := n.journal.Get(ctx, id, req.ID)
	if err != nil {
		n.logger.Warn("Journal lookup failed", zap.Uint64("request_id", req.ID), zap.Error(err))
	}
	if entry.Settled() {
		return false
	}

	guard := n.proc.Guard()
	if !guard.TryAcquire(req.ID) {
		return false
	}
	select {
	case n.queue <- req:
		return true
	default:
		guard.Release(req.ID)
		n.state.RecordDropped()
		n.logger.Warn("Work queue full, dropping discovery", zap.Uint64("request_id", req.ID))
		return false
	}
}

func (n *Node) worker(ctx context.Context, id int) {
	defer n.workers.Done()
	for req := range n.queue {
		res := n.proc.Process(ctx, req)
		if !res.Aborted() {
			n.state.RecordResult(res)
		}
	}
	n.logger.Debug("Worker stopped", zap.Int("worker", id))
}
