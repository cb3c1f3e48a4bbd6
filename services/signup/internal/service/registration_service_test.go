package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/events"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/metrics"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/otp"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/session"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RegistrationSuite struct {
	suite.Suite

	deliverer *fakeDeliverer
	users     *fakeUserRepo
	store     *session.MemoryStore
	publisher *fakePublisher
	metrics   *metrics.Metrics
	locks     *sessionLocks
	svc       *registrationService
	sessionID string
}

func TestRegistrationSuite(t *testing.T) {
	suite.Run(t, new(RegistrationSuite))
}

func (s *RegistrationSuite) SetupTest() {
	s.deliverer = &fakeDeliverer{}
	s.users = newFakeUserRepo()
	s.store = session.NewMemoryStore(time.Hour)
	s.publisher = &fakePublisher{}
	s.metrics = metrics.New(prometheus.NewRegistry())

	machine := workflow.NewMachine(otp.NewChallenge(s.deliverer), testHasher, s.users)
	s.locks = newSessionLocks()
	s.svc = NewRegistrationService(machine, s.store, s.locks, s.publisher, s.metrics).(*registrationService)
	s.sessionID = s.svc.NewSession()
}

func form() domain.RegistrationForm {
	return domain.RegistrationForm{
		FirstName:      "John",
		LastName:       "Doe",
		Age:            "30",
		Address:        "1 Main St",
		Gender:         "male",
		Mobile:         "5551234567",
		Email:          "jdoe.smith@example.com",
		CardholderName: "John Doe",
		CardType:       "debit",
		CardNumber:     "4111111111111111",
		CVV:            "123",
		Expiry:         "2099-12",
	}
}

func creds() domain.CredentialsForm {
	return domain.CredentialsForm{Username: "jdoe.1", Password: "Abcd123!", ConfirmPassword: "Abcd123!"}
}

func (s *RegistrationSuite) stage() domain.Stage {
	st, err := s.svc.Stage(context.Background(), s.sessionID)
	s.Require().NoError(err)
	return st
}

func (s *RegistrationSuite) TestFullRegistration() {
	ctx := context.Background()
	s.Equal(domain.StageEmpty, s.stage())

	out, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeAdvanced, out.Kind)
	s.Equal(domain.StageChallenged, s.stage())

	out, err = s.svc.ResendCode(ctx, s.sessionID)
	s.Require().NoError(err)
	s.Equal(domain.OutcomeAdvanced, out.Kind)

	out, err = s.svc.SubmitCode(ctx, s.sessionID, s.deliverer.last())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeAdvanced, out.Kind)
	s.Equal(domain.StageVerified, s.stage())

	out, err = s.svc.SubmitCredentials(ctx, s.sessionID, creds())
	s.Require().NoError(err)
	s.Equal(domain.StageCommitted, out.Stage)
	s.NotZero(out.UserID)

	s.Equal(domain.StageEmpty, s.stage(), "committed workflow is cleared")
	s.Equal(1, s.users.addCalls)
	s.Equal([]string{
		events.RegistrationCodeSent,
		events.RegistrationCodeSent,
		events.RegistrationCompleted,
	}, s.publisher.subjects())

	completed := s.publisher.events[2].payload.(events.RegistrationCompletedEvent)
	s.Equal("jdoe.1", completed.Username)
	s.Equal("jdoe.smith@example.com", completed.Email)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Registrations))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.CodeDeliveries.WithLabelValues("sent")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Operations.WithLabelValues("submit_code", "advanced")))

	out, err = s.svc.SubmitCredentials(ctx, s.sessionID, creds())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeStale, out.Kind, "second submit after commit")
	s.Equal(1, s.users.addCalls)
}

func (s *RegistrationSuite) TestFailedStepsAreNotSaved() {
	ctx := context.Background()
	_, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)
	before, _ := s.store.Get(ctx, s.sessionID)

	out, err := s.svc.SubmitCode(ctx, s.sessionID, "000000")
	s.Require().NoError(err)
	s.Equal(domain.OutcomeIncorrectCode, out.Kind)

	bad := form()
	bad.Email = "nope"
	out, err = s.svc.SubmitRegistration(ctx, s.sessionID, bad)
	s.Require().NoError(err)
	s.Equal(domain.OutcomeValidationFailure, out.Kind)

	after, _ := s.store.Get(ctx, s.sessionID)
	s.Equal(before, after)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Operations.WithLabelValues("submit_code", "incorrect_code")))
}

func (s *RegistrationSuite) TestDeliveryFailureThenResend() {
	ctx := context.Background()
	s.deliverer.err = errors.New("smtp: 421 try later")

	out, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)
	s.True(out.DeliveryFailed)
	s.Equal(domain.StageChallenged, s.stage())
	s.Empty(s.publisher.subjects())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CodeDeliveries.WithLabelValues("failed")))

	s.deliverer.err = nil
	out, err = s.svc.ResendCode(ctx, s.sessionID)
	s.Require().NoError(err)
	s.False(out.DeliveryFailed)

	out, err = s.svc.SubmitCode(ctx, s.sessionID, s.deliverer.last())
	s.Require().NoError(err)
	s.Equal(domain.StageVerified, out.Stage)
}

func (s *RegistrationSuite) TestAbandon() {
	ctx := context.Background()
	_, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)

	out, err := s.svc.Abandon(ctx, s.sessionID)
	s.Require().NoError(err)
	s.Equal(domain.StageEmpty, out.Stage)
	s.Equal(domain.StageEmpty, s.stage())
	s.Contains(s.publisher.subjects(), events.RegistrationAbandoned)

	out, err = s.svc.SubmitCode(ctx, s.sessionID, s.deliverer.last())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeStale, out.Kind)
	s.Equal(domain.StageEmpty, out.Redirect)
}

func (s *RegistrationSuite) TestConcurrentCodeSubmissionsVerifyOnce() {
	ctx := context.Background()
	_, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)
	code := s.deliverer.last()

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
		stale    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.svc.SubmitCode(ctx, s.sessionID, code)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch out.Kind {
			case domain.OutcomeAdvanced:
				advanced++
			case domain.OutcomeStale:
				stale++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, advanced)
	s.Equal(n-1, stale)
	s.Zero(s.locks.len(), "locks released")
}

func (s *RegistrationSuite) TestConcurrentCredentialSubmissionsCommitOnce() {
	ctx := context.Background()
	_, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)
	_, err = s.svc.SubmitCode(ctx, s.sessionID, s.deliverer.last())
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.svc.SubmitCredentials(ctx, s.sessionID, creds())
		}()
	}
	wg.Wait()

	s.Equal(1, s.users.addCalls)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Registrations))
}

func (s *RegistrationSuite) TestSessionsAreIndependent() {
	ctx := context.Background()
	other := s.svc.NewSession()
	s.NotEqual(s.sessionID, other)

	_, err := s.svc.SubmitRegistration(ctx, s.sessionID, form())
	s.Require().NoError(err)

	out, err := s.svc.SubmitCode(ctx, other, s.deliverer.last())
	s.Require().NoError(err)
	s.Equal(domain.OutcomeStale, out.Kind)
}

func TestStoreFailuresAreReturned(t *testing.T) {
	d := &fakeDeliverer{}
	store := &failingStore{WorkflowStore: session.NewMemoryStore(time.Hour)}
	m := metrics.New(prometheus.NewRegistry())
	machine := workflow.NewMachine(otp.NewChallenge(d), testHasher, newFakeUserRepo())
	pub := &fakePublisher{}
	svc := NewRegistrationService(machine, store, nil, pub, m)
	ctx := context.Background()

	store.putErr = errors.New("redis: connection refused")
	_, err := svc.SubmitRegistration(ctx, "s1", form())
	require.Error(t, err)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "save", storeErr.Op)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("submit_registration", "error")))
	assert.Empty(t, pub.subjects(), "nothing is published for an unsaved step")

	store.putErr = nil
	store.getErr = errors.New("redis: i/o timeout")
	_, err = svc.ResendCode(ctx, "s1")
	require.Error(t, err)
	_, err = svc.Stage(ctx, "s1")
	require.Error(t, err)
}

func TestCorruptWorkflowIsDiscarded(t *testing.T) {
	d := &fakeDeliverer{}
	mem := session.NewMemoryStore(time.Hour)
	store := &failingStore{
		WorkflowStore: mem,
		getErr:        fmt.Errorf("%w: stage does not match staged data", session.ErrCorruptWorkflow),
	}
	machine := workflow.NewMachine(otp.NewChallenge(d), testHasher, newFakeUserRepo())
	svc := NewRegistrationService(machine, store, nil, nil, nil)

	out, err := svc.SubmitCode(context.Background(), "s1", "123456")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, out.Kind)
	assert.Equal(t, domain.StageEmpty, out.Redirect)
}

func TestReplicasSharingALockerCommitOnce(t *testing.T) {
	d := &fakeDeliverer{}
	users := newFakeUserRepo()
	store := session.NewMemoryStore(time.Hour)
	shared := newSessionLocks()
	replica := func() RegistrationService {
		machine := workflow.NewMachine(otp.NewChallenge(d), testHasher, users)
		return NewRegistrationService(machine, store, shared, nil, nil)
	}
	a, b := replica(), replica()
	ctx := context.Background()

	id := a.NewSession()
	_, err := a.SubmitRegistration(ctx, id, form())
	require.NoError(t, err)
	out, err := b.SubmitCode(ctx, id, d.last())
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeAdvanced, out.Kind)

	var wg sync.WaitGroup
	kinds := make([]domain.OutcomeKind, 2)
	for i, svc := range []RegistrationService{a, b} {
		wg.Add(1)
		go func(i int, svc RegistrationService) {
			defer wg.Done()
			c := creds()
			c.Username = fmt.Sprintf("jdoe.%d", i+1)
			out, err := svc.SubmitCredentials(ctx, id, c)
			if err == nil {
				kinds[i] = out.Kind
			}
		}(i, svc)
	}
	wg.Wait()

	assert.Equal(t, 1, users.addCalls, "one verified workflow creates one account")
	assert.Len(t, users.users, 1)
	assert.ElementsMatch(t, []domain.OutcomeKind{domain.OutcomeAdvanced, domain.OutcomeStale}, kinds)
}

func TestLockFailureIsAStoreError(t *testing.T) {
	d := &fakeDeliverer{}
	machine := workflow.NewMachine(otp.NewChallenge(d), testHasher, newFakeUserRepo())
	m := metrics.New(prometheus.NewRegistry())
	svc := NewRegistrationService(machine, session.NewMemoryStore(time.Hour), failingLocker{err: session.ErrLockTimeout}, nil, m)

	_, err := svc.SubmitRegistration(context.Background(), "s1", form())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "lock", storeErr.Op)
	assert.ErrorIs(t, err, session.ErrLockTimeout)
	assert.Empty(t, d.codes, "nothing runs without the lock")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("submit_registration", "error")))

	_, err = svc.Stage(context.Background(), "s1")
	assert.ErrorAs(t, err, &storeErr)
}
