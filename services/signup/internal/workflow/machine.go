// Package workflow implements the registration state machine. A Machine holds
// no per-session state: every operation takes the current workflow and
// returns the next one together with an Outcome for the caller to render.
//
// On any non-advancing outcome the input workflow is returned as is. The
// machine clones before it mutates, so a caller that discards the result is
// left with exactly what it passed in.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/mailer"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/otp"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/repository"
)

// Accounts is the slice of the user repository the machine needs.
type Accounts interface {
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	AddUser(ctx context.Context, user *domain.User, card *domain.PaymentInstrument) (int64, error)
}

type PasswordHasher interface {
	Hash(secret string) (string, error)
}

const visibleLocalPart = 4

const (
	msgCodeSent         = "A verification code was sent to %s"
	msgDeliveryFailed   = "We could not send the verification code. Please request a new one."
	msgIncorrectCode    = "Incorrect verification code"
	msgVerified         = "Email verified. Choose a username and password."
	msgUsernameTaken    = "Username is already taken"
	msgCommitted        = "Your account has been created"
	msgAbandoned        = "Registration discarded"
	msgRegisterFirst    = "Please fill in the registration form first"
	msgVerifyFirst      = "You must verify your email first"
	msgAlreadyVerified  = "Email already verified"
	msgRequestCodeFirst = "No code has been sent yet. Please request a new one."
	msgAlreadyDone      = "Registration already completed. Please log in."
)

type Machine struct {
	challenge *otp.Challenge
	hasher    PasswordHasher
	accounts  Accounts
	now       func() time.Time
}

func NewMachine(challenge *otp.Challenge, hasher PasswordHasher, accounts Accounts) *Machine {
	return &Machine{
		challenge: challenge,
		hasher:    hasher,
		accounts:  accounts,
		now:       time.Now,
	}
}

// SubmitRegistration validates the form, stages the drafts and sends the
// first code. A resubmission from any non-terminal stage replaces the drafts
// and mints a fresh code.
func (m *Machine) SubmitRegistration(ctx context.Context, wf *domain.Workflow, form domain.RegistrationForm) (*domain.Workflow, domain.Outcome, error) {
	stage := domain.StageOf(wf)
	if stage == domain.StageCommitted {
		return m.stale(wf, msgAlreadyDone)
	}

	now := m.now()
	form.Normalize()
	if invalid := form.Validate(now); invalid != nil {
		return wf, invalidOutcome(stage, invalid), nil
	}

	profile, payment, err := form.Drafts()
	if err != nil {
		return wf, domain.Outcome{}, fmt.Errorf("build drafts: %w", err)
	}

	next := &domain.Workflow{
		Stage:     domain.StageDrafted,
		Profile:   profile,
		Payment:   payment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if wf != nil && !wf.CreatedAt.IsZero() {
		next.CreatedAt = wf.CreatedAt
	}

	next.Verification = &domain.VerificationState{}
	next.Stage = domain.StageChallenged
	return m.issue(ctx, wf, next)
}

// ResendCode delivers the outstanding code again. It is also the recovery
// path after a failed first delivery.
func (m *Machine) ResendCode(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
	switch domain.StageOf(wf) {
	case domain.StageChallenged:
	case domain.StageVerified:
		return m.stale(wf, msgAlreadyVerified)
	default:
		return m.stale(wf, msgRegisterFirst)
	}

	next := wf.Clone()
	next.UpdatedAt = m.now()
	return m.issue(ctx, wf, next)
}

func (m *Machine) issue(ctx context.Context, prev, next *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
	to := otp.Recipient{Email: next.Profile.Email, FirstName: next.Profile.FirstName}
	err := m.challenge.Issue(ctx, next.Verification, to)
	switch {
	case errors.Is(err, otp.ErrDeliveryFailed):
		return next, domain.Outcome{
			Kind:           domain.OutcomeAdvanced,
			Stage:          domain.StageChallenged,
			Message:        msgDeliveryFailed,
			DeliveryFailed: true,
		}, nil
	case err != nil:
		return prev, domain.Outcome{}, err
	}

	sentTo := mailer.ObfuscateAddress(to.Email, visibleLocalPart)
	return next, domain.Outcome{
		Kind:    domain.OutcomeAdvanced,
		Stage:   domain.StageChallenged,
		Message: fmt.Sprintf(msgCodeSent, sentTo),
		SentTo:  sentTo,
	}, nil
}

// SubmitCode checks candidate against the sent code. A code is accepted once;
// afterwards the workflow is Verified and further submissions are stale.
func (m *Machine) SubmitCode(ctx context.Context, wf *domain.Workflow, candidate string) (*domain.Workflow, domain.Outcome, error) {
	switch domain.StageOf(wf) {
	case domain.StageChallenged:
	case domain.StageVerified:
		return m.stale(wf, msgAlreadyVerified)
	default:
		return m.stale(wf, msgRegisterFirst)
	}
	if !wf.Verification.Sent {
		return m.stale(wf, msgRequestCodeFirst)
	}

	next := wf.Clone()
	if !m.challenge.Verify(next.Verification, strings.TrimSpace(candidate)) {
		return wf, domain.Outcome{
			Kind:    domain.OutcomeIncorrectCode,
			Stage:   domain.StageChallenged,
			Message: msgIncorrectCode,
		}, nil
	}

	next.Stage = domain.StageVerified
	next.UpdatedAt = m.now()
	return next, domain.Outcome{
		Kind:    domain.OutcomeAdvanced,
		Stage:   domain.StageVerified,
		Message: msgVerified,
	}, nil
}

// SubmitCredentials creates the account from a verified workflow. The
// returned workflow carries only the new user id; drafts and verification
// state are gone.
func (m *Machine) SubmitCredentials(ctx context.Context, wf *domain.Workflow, form domain.CredentialsForm) (*domain.Workflow, domain.Outcome, error) {
	if domain.StageOf(wf) != domain.StageVerified {
		return m.stale(wf, msgVerifyFirst)
	}

	form.Normalize()
	if invalid := form.Validate(); invalid != nil {
		return wf, invalidOutcome(domain.StageVerified, invalid), nil
	}

	existing, err := m.accounts.FindUserByUsername(ctx, form.Username)
	if err != nil {
		return wf, domain.Outcome{}, fmt.Errorf("check username: %w", err)
	}
	if existing != nil {
		return wf, usernameTaken(), nil
	}

	digest, err := m.hasher.Hash(form.Password)
	if err != nil {
		return wf, domain.Outcome{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.NewUser(wf.Profile, form.Username, digest)
	card := domain.NewPaymentInstrument(wf.Payment)
	userID, err := m.accounts.AddUser(ctx, user, card)
	if repository.IsUniqueViolation(err) {
		return wf, usernameTaken(), nil
	}
	if err != nil {
		return wf, domain.Outcome{}, fmt.Errorf("add user: %w", err)
	}

	next := &domain.Workflow{
		Stage:     domain.StageCommitted,
		UserID:    userID,
		CreatedAt: wf.CreatedAt,
		UpdatedAt: m.now(),
	}
	return next, domain.Outcome{
		Kind:    domain.OutcomeAdvanced,
		Stage:   domain.StageCommitted,
		Message: msgCommitted,
		UserID:  userID,
	}, nil
}

// Abandon discards a non-terminal workflow. Abandoning nothing is a no-op.
func (m *Machine) Abandon(wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
	if domain.StageOf(wf) == domain.StageCommitted {
		return m.stale(wf, msgAlreadyDone)
	}
	return nil, domain.Outcome{
		Kind:    domain.OutcomeAdvanced,
		Stage:   domain.StageEmpty,
		Message: msgAbandoned,
	}, nil
}

func (m *Machine) stale(wf *domain.Workflow, message string) (*domain.Workflow, domain.Outcome, error) {
	stage := domain.StageOf(wf)
	return wf, domain.Outcome{
		Kind:     domain.OutcomeStale,
		Stage:    stage,
		Message:  message,
		Redirect: RedirectFor(stage),
	}, nil
}

// RedirectFor names the step a client in stage should return to.
func RedirectFor(stage domain.Stage) domain.Stage {
	switch stage {
	case domain.StageChallenged, domain.StageVerified, domain.StageCommitted:
		return stage
	default:
		return domain.StageEmpty
	}
}

func invalidOutcome(stage domain.Stage, invalid *domain.ValidationError) domain.Outcome {
	return domain.Outcome{
		Kind:    domain.OutcomeValidationFailure,
		Stage:   stage,
		Message: invalid.Message,
		Invalid: invalid,
	}
}

func usernameTaken() domain.Outcome {
	return invalidOutcome(domain.StageVerified, &domain.ValidationError{Field: "username", Message: msgUsernameTaken})
}
