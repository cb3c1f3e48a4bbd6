package domain

import (
	"errors"
	"time"
)

type Stage string

const (
	StageEmpty      Stage = "empty"
	StageDrafted    Stage = "drafted"
	StageChallenged Stage = "challenged"
	StageVerified   Stage = "verified"
	StageCommitted  Stage = "committed"
)

// VerificationState tracks one email challenge. Code is zero until generated.
type VerificationState struct {
	Code     int  `json:"code"`
	Sent     bool `json:"sent"`
	Verified bool `json:"verified"`
}

// Workflow is the server-side state of one in-progress registration.
type Workflow struct {
	Stage        Stage              `json:"stage"`
	Profile      *ProfileDraft      `json:"profile,omitempty"`
	Payment      *PaymentDraft      `json:"payment,omitempty"`
	Verification *VerificationState `json:"verification,omitempty"`
	UserID       int64              `json:"user_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// StageOf returns StageEmpty for a nil workflow.
func StageOf(wf *Workflow) Stage {
	if wf == nil || wf.Stage == "" {
		return StageEmpty
	}
	return wf.Stage
}

// Clone returns a deep copy so callers can advance state without touching
// the instance they were handed.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	if w.Profile != nil {
		p := *w.Profile
		out.Profile = &p
	}
	if w.Payment != nil {
		p := *w.Payment
		out.Payment = &p
	}
	if w.Verification != nil {
		v := *w.Verification
		out.Verification = &v
	}
	return &out
}

var (
	ErrOrphanDraft       = errors.New("payment or verification state without a profile")
	ErrVerifiedWhileSent = errors.New("verification marked verified while a code is still outstanding")
	ErrStageMismatch     = errors.New("stage does not match staged data")
)

// Validate checks the structural invariants of a stored workflow. A value
// loaded from an external store is checked before the state machine trusts it.
func (w *Workflow) Validate() error {
	if w == nil {
		return nil
	}
	if w.Profile == nil && (w.Payment != nil || w.Verification != nil) {
		return ErrOrphanDraft
	}
	v := w.Verification
	if v != nil && v.Verified && v.Sent {
		return ErrVerifiedWhileSent
	}

	switch w.Stage {
	case StageEmpty, "":
		if w.Profile != nil {
			return ErrStageMismatch
		}
	case StageDrafted:
		if w.Profile == nil || w.Payment == nil {
			return ErrStageMismatch
		}
	case StageChallenged:
		if w.Profile == nil || w.Payment == nil || v == nil || v.Verified {
			return ErrStageMismatch
		}
	case StageVerified:
		if w.Profile == nil || w.Payment == nil || v == nil || !v.Verified {
			return ErrStageMismatch
		}
	case StageCommitted:
		if w.Profile != nil || w.UserID == 0 {
			return ErrStageMismatch
		}
	default:
		return ErrStageMismatch
	}
	return nil
}

type OutcomeKind string

const (
	OutcomeAdvanced          OutcomeKind = "advanced"
	OutcomeValidationFailure OutcomeKind = "validation_failure"
	OutcomeIncorrectCode     OutcomeKind = "incorrect_code"
	OutcomeStale             OutcomeKind = "stale"
)

// Outcome is the user-facing result of one workflow operation. Infrastructure
// faults are reported as errors, never as outcomes.
type Outcome struct {
	Kind    OutcomeKind      `json:"kind"`
	Stage   Stage            `json:"stage"`
	Message string           `json:"message,omitempty"`
	Invalid *ValidationError `json:"invalid,omitempty"`

	// Redirect names the step a stale request should return to.
	Redirect Stage `json:"redirect,omitempty"`

	// DeliveryFailed is set when the code could not be mailed; resend is the
	// way forward.
	DeliveryFailed bool   `json:"delivery_failed,omitempty"`
	SentTo         string `json:"sent_to,omitempty"`
	UserID         int64  `json:"user_id,omitempty"`
}
