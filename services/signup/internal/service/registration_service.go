package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/events"
	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/metrics"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/session"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/workflow"
	"github.com/google/uuid"
)

// WorkflowStore persists in-progress workflows by session id. Get returns
// nil, nil when the session has none.
type WorkflowStore interface {
	Get(ctx context.Context, sessionID string) (*domain.Workflow, error)
	Put(ctx context.Context, sessionID string, wf *domain.Workflow) error
	Delete(ctx context.Context, sessionID string) error
}

// StoreError reports a failed workflow store call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s workflow: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

type RegistrationService interface {
	NewSession() string
	Stage(ctx context.Context, sessionID string) (domain.Stage, error)
	SubmitRegistration(ctx context.Context, sessionID string, form domain.RegistrationForm) (domain.Outcome, error)
	ResendCode(ctx context.Context, sessionID string) (domain.Outcome, error)
	SubmitCode(ctx context.Context, sessionID, code string) (domain.Outcome, error)
	SubmitCredentials(ctx context.Context, sessionID string, form domain.CredentialsForm) (domain.Outcome, error)
	Abandon(ctx context.Context, sessionID string) (domain.Outcome, error)
}

type registrationService struct {
	machine   *workflow.Machine
	store     WorkflowStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	locker    Locker
}

// NewRegistrationService wires the machine to a workflow store. A nil
// locker serializes sessions within this process only, which is enough for
// an in-memory store.
func NewRegistrationService(
	machine *workflow.Machine,
	store WorkflowStore,
	locker Locker,
	publisher events.Publisher,
	m *metrics.Metrics,
) RegistrationService {
	if locker == nil {
		locker = newSessionLocks()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &registrationService{
		machine:   machine,
		store:     store,
		publisher: publisher,
		metrics:   m,
		locker:    locker,
	}
}

func (s *registrationService) NewSession() string {
	return uuid.NewString()
}

func (s *registrationService) Stage(ctx context.Context, sessionID string) (domain.Stage, error) {
	ctx = logger.WithSession(ctx, sessionID)
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	wf, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return domain.StageOf(wf), nil
}

func (s *registrationService) SubmitRegistration(ctx context.Context, sessionID string, form domain.RegistrationForm) (domain.Outcome, error) {
	return s.run(ctx, sessionID, "submit_registration",
		func(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
			return s.machine.SubmitRegistration(ctx, wf, form)
		},
		func(ctx context.Context, _, next *domain.Workflow, out domain.Outcome) {
			s.codeIssued(ctx, sessionID, next, out, false)
		})
}

func (s *registrationService) ResendCode(ctx context.Context, sessionID string) (domain.Outcome, error) {
	return s.run(ctx, sessionID, "resend_code",
		func(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
			return s.machine.ResendCode(ctx, wf)
		},
		func(ctx context.Context, _, next *domain.Workflow, out domain.Outcome) {
			s.codeIssued(ctx, sessionID, next, out, true)
		})
}

func (s *registrationService) SubmitCode(ctx context.Context, sessionID, code string) (domain.Outcome, error) {
	return s.run(ctx, sessionID, "submit_code",
		func(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
			return s.machine.SubmitCode(ctx, wf, code)
		}, nil)
}

func (s *registrationService) SubmitCredentials(ctx context.Context, sessionID string, form domain.CredentialsForm) (domain.Outcome, error) {
	start := time.Now()
	return s.run(ctx, sessionID, "submit_credentials",
		func(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
			return s.machine.SubmitCredentials(ctx, wf, form)
		},
		func(ctx context.Context, prev, next *domain.Workflow, _ domain.Outcome) {
			if domain.StageOf(next) != domain.StageCommitted {
				return
			}
			s.metrics.ObserveCommit(start)
			s.metrics.IncrementRegistrations()
			logger.InfoContext(ctx, "Registration completed", "user_id", next.UserID)
			s.publish(ctx, events.RegistrationCompleted, events.RegistrationCompletedEvent{
				UserID:      next.UserID,
				Username:    strings.TrimSpace(form.Username),
				Email:       prev.Profile.Email,
				FirstName:   prev.Profile.FirstName,
				CompletedAt: time.Now(),
			})
		})
}

func (s *registrationService) Abandon(ctx context.Context, sessionID string) (domain.Outcome, error) {
	return s.run(ctx, sessionID, "abandon",
		func(_ context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error) {
			return s.machine.Abandon(wf)
		},
		func(ctx context.Context, prev, _ *domain.Workflow, _ domain.Outcome) {
			if prev == nil {
				return
			}
			s.publish(ctx, events.RegistrationAbandoned, events.RegistrationAbandonedEvent{
				SessionID:   sessionID,
				Stage:       string(domain.StageOf(prev)),
				AbandonedAt: time.Now(),
			})
		})
}

type (
	step      func(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, domain.Outcome, error)
	afterSave func(ctx context.Context, prev, next *domain.Workflow, out domain.Outcome)
)

// run is the single serialization point for a session: load, advance and
// save happen under the session lock. after runs only once an advanced
// result has been saved.
func (s *registrationService) run(ctx context.Context, sessionID, operation string, fn step, after afterSave) (domain.Outcome, error) {
	ctx = logger.WithSession(ctx, sessionID)

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		s.metrics.ObserveOperation(operation, "error")
		return domain.Outcome{}, err
	}
	defer unlock()

	wf, err := s.load(ctx, sessionID)
	if err != nil {
		s.metrics.ObserveOperation(operation, "error")
		return domain.Outcome{}, err
	}

	next, out, err := fn(ctx, wf)
	if err != nil {
		s.metrics.ObserveOperation(operation, "error")
		logger.ErrorContext(ctx, "Registration step failed", "operation", operation, "error", err)
		return domain.Outcome{}, err
	}

	if out.Kind == domain.OutcomeAdvanced {
		if err := s.save(ctx, sessionID, next); err != nil {
			s.metrics.ObserveOperation(operation, "error")
			logger.ErrorContext(ctx, "Failed to save workflow", "operation", operation, "error", err)
			return domain.Outcome{}, err
		}
		if after != nil {
			after(ctx, wf, next, out)
		}
	}

	s.metrics.ObserveOperation(operation, string(out.Kind))
	logger.DebugContext(ctx, "Registration step", "operation", operation, "outcome", out.Kind, "stage", out.Stage)
	return out, nil
}

func (s *registrationService) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		logger.WarnContext(ctx, "Session lock not acquired", "error", err)
		return nil, &StoreError{Op: "lock", Err: err}
	}
	return unlock, nil
}

// load treats a stored workflow that fails validation as absent so the
// client is sent back to the start instead of failing forever.
func (s *registrationService) load(ctx context.Context, sessionID string) (*domain.Workflow, error) {
	wf, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrCorruptWorkflow) {
		logger.WarnContext(ctx, "Discarding corrupt workflow", "error", err)
		if err := s.store.Delete(ctx, sessionID); err != nil {
			return nil, &StoreError{Op: "discard", Err: err}
		}
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	return wf, nil
}

// save stores next, or deletes the session entry once there is nothing left
// to resume. A failed delete after commit is logged only: the account
// exists and a retry must not report otherwise.
func (s *registrationService) save(ctx context.Context, sessionID string, next *domain.Workflow) error {
	switch domain.StageOf(next) {
	case domain.StageEmpty:
		if err := s.store.Delete(ctx, sessionID); err != nil {
			return &StoreError{Op: "delete", Err: err}
		}
	case domain.StageCommitted:
		if err := s.store.Delete(ctx, sessionID); err != nil {
			logger.WarnContext(ctx, "Failed to clear committed workflow", "error", err)
		}
	default:
		if err := s.store.Put(ctx, sessionID, next); err != nil {
			return &StoreError{Op: "save", Err: err}
		}
	}
	return nil
}

func (s *registrationService) codeIssued(ctx context.Context, sessionID string, wf *domain.Workflow, out domain.Outcome, resend bool) {
	s.metrics.ObserveDelivery(!out.DeliveryFailed)
	if out.DeliveryFailed {
		logger.WarnContext(ctx, "Verification code delivery failed", "resend", resend)
		return
	}
	s.publish(ctx, events.RegistrationCodeSent, events.RegistrationCodeSentEvent{
		SessionID: sessionID,
		Email:     wf.Profile.Email,
		Resend:    resend,
		SentAt:    time.Now(),
	})
}

func (s *registrationService) publish(ctx context.Context, subject string, payload any) {
	if err := s.publisher.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
