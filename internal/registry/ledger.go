package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"lock-in/validator-node/pkg/security"
)

// ContractVersion is the registry contract version this ledger implements.
const ContractVersion = "1.2.0"

// ConsensusPolicy fixes how verdicts aggregate into an outcome.
type ConsensusPolicy struct {
	// Quorum is the number of verdicts that completes a request. Zero means
	// a simple majority of the selected validators.
	Quorum int
	// ApprovalConfidence is the minimum mean confidence of approving
	// verdicts for an Approved outcome.
	ApprovalConfidence int
}

// DefaultConsensusPolicy is majority quorum with a 70 confidence bar.
func DefaultConsensusPolicy() ConsensusPolicy {
	return ConsensusPolicy{Quorum: 0, ApprovalConfidence: 70}
}

// QuorumFor returns the quorum for a request with n selected validators.
func (p ConsensusPolicy) QuorumFor(n int) int {
	q := p.Quorum
	if q <= 0 {
		q = n/2 + 1
	}
	if q > n {
		q = n
	}
	return q
}

// Aggregate computes the outcome of a set of verdicts.
func (p ConsensusPolicy) Aggregate(verdicts map[string]Verdict) Outcome {
	approvals, rejections, approvingConfidence := 0, 0, 0
	for _, v := range verdicts {
		if v.Approved {
			approvals++
			approvingConfidence += v.Confidence
		} else {
			rejections++
		}
	}
	if approvals > rejections && approvingConfidence >= p.ApprovalConfidence*approvals {
		return OutcomeApproved
	}
	return OutcomeRejected
}

// Ledger is an in-memory reference implementation of the registry
// contract. It backs the devnet server and integration tests.
type Ledger struct {
	mu         sync.RWMutex
	policy     ConsensusPolicy
	nextID     uint64
	requests   map[uint64]*VerificationRequest
	goals      map[string]Goal
	validators map[string]*ValidatorInfo
	listeners  []func(Event)
	now        func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(policy ConsensusPolicy) *Ledger {
	return &Ledger{
		policy:     policy,
		nextID:     1,
		requests:   make(map[uint64]*VerificationRequest),
		goals:      make(map[string]Goal),
		validators: make(map[string]*ValidatorInfo),
		now:        time.Now,
	}
}

// Policy returns the consensus policy.
func (l *Ledger) Policy() ConsensusPolicy { return l.policy }

// Subscribe registers fn to receive request events. fn must not block.
func (l *Ledger) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// RegisterValidator adds an active validator with neutral reputation.
func (l *Ledger) RegisterValidator(address string) ValidatorInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.validators[address]; ok {
		return *v
	}
	v := &ValidatorInfo{Address: address, Active: true, Reputation: 50}
	l.validators[address] = v
	return *v
}

// SetActive toggles a validator's active flag.
func (l *Ledger) SetActive(address string, active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.validators[address]
	if !ok {
		return fmt.Errorf("unknown validator %s", address)
	}
	v.Active = active
	return nil
}

// Validator returns a validator's registry record.
func (l *Ledger) Validator(address string) (ValidatorInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.validators[address]
	if !ok {
		return ValidatorInfo{}, fmt.Errorf("unknown validator %s", address)
	}
	return *v, nil
}

// PutGoal stores or replaces a goal.
func (l *Ledger) PutGoal(g Goal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.goals[g.ID] = g
}

// Goal returns a goal by id.
func (l *Ledger) Goal(id string) (Goal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.goals[id]
	if !ok {
		return Goal{}, ErrUnknownGoal
	}
	return g, nil
}

// SubmitProof creates a verification request. The selected validators and
// deadline are fixed from here on.
func (l *Ledger) SubmitProof(goalID, submitterID, proofRef string, validators []string, ttl time.Duration) (VerificationRequest, error) {
	if len(validators) == 0 {
		return VerificationRequest{}, fmt.Errorf("at least one validator must be selected")
	}

	l.mu.Lock()
	if _, ok := l.goals[goalID]; !ok {
		l.mu.Unlock()
		return VerificationRequest{}, ErrUnknownGoal
	}
	now := l.now()
	req := &VerificationRequest{
		ID:                 l.nextID,
		GoalID:             goalID,
		SubmitterID:        submitterID,
		ProofRef:           proofRef,
		SelectedValidators: append([]string(nil), validators...),
		Verdicts:           make(map[string]Verdict),
		Status:             StatusPending,
		CreatedAt:          now,
		Deadline:           now.Add(ttl),
	}
	l.nextID++
	l.requests[req.ID] = req
	snapshot := copyRequest(req)
	listeners := append([]func(Event){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(Event{Type: EventRequestCreated, Request: snapshot})
	}
	return snapshot, nil
}

// Request returns a snapshot of a request.
func (l *Ledger) Request(id uint64) (VerificationRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	req, ok := l.requests[id]
	if !ok {
		return VerificationRequest{}, ErrUnknownRequest
	}
	return copyRequest(req), nil
}

// ListPendingFor returns open requests where validatorID is selected and has
// not voted yet, oldest first.
func (l *Ledger) ListPendingFor(validatorID string) []VerificationRequest {
	l.ExpireOverdue()

	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	out := make([]VerificationRequest, 0)
	for _, req := range l.requests {
		if req.IsOpen(now) && req.IsSelected(validatorID) && !req.HasVoted(validatorID) {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SubmitVote appends a verdict. Each (validator, request) pair is accepted
// at most once.
func (l *Ledger) SubmitVote(vote SignedVote) (VoteAck, error) {
	b := vote.Ballot
	if b.ValidatorID == "" || b.ReasoningRef == "" {
		return VoteAck{}, ErrInvalidVote
	}
	if err := security.Verify(b.ValidatorID, b, vote.Signature); err != nil {
		return VoteAck{}, ErrBadSignature
	}

	l.mu.Lock()
	req, ok := l.requests[b.RequestID]
	if !ok {
		l.mu.Unlock()
		return VoteAck{}, ErrUnknownRequest
	}
	if !req.IsSelected(b.ValidatorID) {
		l.mu.Unlock()
		return VoteAck{}, ErrNotSelected
	}
	if req.HasVoted(b.ValidatorID) {
		l.mu.Unlock()
		return VoteAck{}, ErrAlreadyVoted
	}
	now := l.now()
	if !req.IsOpen(now) {
		events := l.expireLocked(now)
		l.mu.Unlock()
		l.emit(events)
		return VoteAck{}, ErrRequestClosed
	}

	req.Verdicts[b.ValidatorID] = Verdict{
		ValidatorID:  b.ValidatorID,
		RequestID:    b.RequestID,
		Approved:     b.Approved,
		Confidence:   clamp(b.Confidence),
		ReasoningRef: b.ReasoningRef,
		SubmittedAt:  now,
	}
	if v, ok := l.validators[b.ValidatorID]; ok {
		v.TotalValidations++
	}

	var events []Event
	if len(req.Verdicts) >= l.policy.QuorumFor(len(req.SelectedValidators)) {
		req.Status = StatusComplete
		req.Outcome = l.policy.Aggregate(req.Verdicts)
		l.settleReputationLocked(req)
		events = append(events, Event{Type: EventRequestClosed, Request: copyRequest(req)})
	}
	ack := VoteAck{
		RequestID:   req.ID,
		ValidatorID: b.ValidatorID,
		Status:      req.Status,
		Outcome:     req.Outcome,
		VerdictsIn:  len(req.Verdicts),
	}
	l.mu.Unlock()

	l.emit(events)
	return ack, nil
}

// ExpireOverdue closes pending requests whose deadline has passed: Failed
// when some verdicts arrived without quorum, Expired when none did.
func (l *Ledger) ExpireOverdue() int {
	l.mu.Lock()
	events := l.expireLocked(l.now())
	l.mu.Unlock()
	l.emit(events)
	return len(events)
}

func (l *Ledger) expireLocked(now time.Time) []Event {
	var events []Event
	for _, req := range l.requests {
		if req.Status != StatusPending || now.Before(req.Deadline) {
			continue
		}
		if len(req.Verdicts) > 0 {
			req.Status = StatusFailed
		} else {
			req.Status = StatusExpired
		}
		events = append(events, Event{Type: EventRequestClosed, Request: copyRequest(req)})
	}
	return events
}

func (l *Ledger) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	l.mu.RLock()
	listeners := append([]func(Event){}, l.listeners...)
	l.mu.RUnlock()
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// settleReputationLocked nudges reputation toward validators that agreed
// with the aggregate outcome.
func (l *Ledger) settleReputationLocked(req *VerificationRequest) {
	approved := req.Outcome == OutcomeApproved
	for id, v := range req.Verdicts {
		info, ok := l.validators[id]
		if !ok {
			continue
		}
		if v.Approved == approved {
			info.Reputation = clamp(info.Reputation + 1)
		} else {
			info.Reputation = clamp(info.Reputation - 1)
		}
	}
}

func clamp(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func copyRequest(req *VerificationRequest) VerificationRequest {
	out := *req
	out.SelectedValidators = append([]string(nil), req.SelectedValidators...)
	out.Verdicts = make(map[string]Verdict, len(req.Verdicts))
	for k, v := range req.Verdicts {
		out.Verdicts[k] = v
	}
	return out
}
