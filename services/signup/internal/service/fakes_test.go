package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/config"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/hasher"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/otp"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/repository"
)

var testHasher = hasher.New(config.HasherConfig{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

type fakeDeliverer struct {
	mu    sync.Mutex
	codes []int
	err   error
}

func (d *fakeDeliverer) DeliverCode(_ context.Context, _ otp.Recipient, code int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.codes = append(d.codes, code)
	return nil
}

func (d *fakeDeliverer) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strconv.Itoa(d.codes[len(d.codes)-1])
}

// fakeUserRepo satisfies repository.UserRepository in memory.
type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	cards     map[int64]*domain.PaymentInstrument
	addCalls  int
	findErr   error
	updateErr error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[int64]*domain.User{}, cards: map[int64]*domain.PaymentInstrument{}}
}

func (r *fakeUserRepo) AddUser(_ context.Context, u *domain.User, c *domain.PaymentInstrument) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addCalls++
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return 0, &repository.SQLError{Code: "23505"}
		}
	}
	id := int64(len(r.users) + 1)
	stored := *u
	stored.ID = id
	stored.CreatedAt = time.Now()
	r.users[id] = &stored
	card := *c
	card.ID = id
	card.UserID = id
	r.cards[id] = &card
	return id, nil
}

func (r *fakeUserRepo) FindUserByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) FindUserByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) FindPaymentInstrument(_ context.Context, userID int64) (*domain.PaymentInstrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cards[userID], nil
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.users[userID].PasswordHash = hash
	return nil
}

type published struct {
	subject string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{subject, data})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.subject
	}
	return out
}

// failingStore wraps a real store and injects errors.
type failingStore struct {
	WorkflowStore
	getErr error
	putErr error
}

func (s *failingStore) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.WorkflowStore.Get(ctx, id)
}

func (s *failingStore) Put(ctx context.Context, id string, wf *domain.Workflow) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.WorkflowStore.Put(ctx, id, wf)
}

type failingLocker struct{ err error }

func (l failingLocker) Lock(context.Context, string) (func(), error) { return nil, l.err }
