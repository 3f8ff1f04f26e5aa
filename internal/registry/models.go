package registry

import "time"

// RequestStatus is the registry-side lifecycle of a verification request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "Pending"
	StatusComplete RequestStatus = "Complete"
	StatusFailed   RequestStatus = "Failed"
	StatusExpired  RequestStatus = "Expired"
)

// Outcome is the aggregate verdict of a completed request.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeApproved Outcome = "Approved"
	OutcomeRejected Outcome = "Rejected"
)

// VerificationRequest is one proof submission awaiting judgment.
type VerificationRequest struct {
	ID                 uint64             `json:"id"`
	GoalID             string             `json:"goal_id"`
	SubmitterID        string             `json:"submitter_id"`
	ProofRef           string             `json:"proof_ref"`
	SelectedValidators []string           `json:"selected_validators"`
	Verdicts           map[string]Verdict `json:"verdicts,omitempty"`
	Status             RequestStatus      `json:"status"`
	Outcome            Outcome            `json:"outcome,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	Deadline           time.Time          `json:"deadline"`
}

// IsSelected reports whether validatorID was chosen to adjudicate r.
func (r *VerificationRequest) IsSelected(validatorID string) bool {
	for _, v := range r.SelectedValidators {
		if v == validatorID {
			return true
		}
	}
	return false
}

// HasVoted reports whether validatorID already has a verdict on r.
func (r *VerificationRequest) HasVoted(validatorID string) bool {
	_, ok := r.Verdicts[validatorID]
	return ok
}

// IsOpen reports whether r still accepts verdicts at now.
func (r *VerificationRequest) IsOpen(now time.Time) bool {
	return r.Status == StatusPending && now.Before(r.Deadline)
}

// Verdict is one validator's adjudication.
type Verdict struct {
	ValidatorID  string    `json:"validator_id"`
	RequestID    uint64    `json:"request_id"`
	Approved     bool      `json:"approved"`
	Confidence   int       `json:"confidence"`
	ReasoningRef string    `json:"reasoning_ref"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Goal is the commitment a proof is judged against.
type Goal struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GoalType    string `json:"goal_type"`
	Target      string `json:"target,omitempty"`
}

// ValidatorInfo is the registry's view of a validator.
type ValidatorInfo struct {
	Address          string `json:"address"`
	Active           bool   `json:"active"`
	Reputation       int    `json:"reputation"`
	TotalValidations int64  `json:"total_validations"`
}

// ContractInfo describes the registry contract a client is talking to.
type ContractInfo struct {
	Version            string `json:"version"`
	Quorum             int    `json:"quorum"`
	ApprovalConfidence int    `json:"approval_confidence"`
}

// Ballot is the signed part of a vote.
type Ballot struct {
	RequestID    uint64 `json:"request_id"`
	ValidatorID  string `json:"validator_id"`
	Approved     bool   `json:"approved"`
	Confidence   int    `json:"confidence"`
	ReasoningRef string `json:"reasoning_ref"`
	SignedAt     int64  `json:"signed_at"`
}

// SignedVote is a ballot plus the validator's signature over its canonical form.
type SignedVote struct {
	Ballot    Ballot `json:"ballot"`
	Signature string `json:"signature"`
}

// VoteAck is the registry's acceptance of a vote.
type VoteAck struct {
	RequestID   uint64        `json:"request_id"`
	ValidatorID string        `json:"validator_id"`
	Status      RequestStatus `json:"status"`
	Outcome     Outcome       `json:"outcome,omitempty"`
	VerdictsIn  int           `json:"verdicts_in"`
}
