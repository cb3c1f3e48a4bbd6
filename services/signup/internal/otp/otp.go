// Package otp issues and checks the six-digit email challenge codes.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
)

const (
	codeMin   = 100000
	codeSpan  = 900000
	codeWidth = 6
)

var (
	ErrDeliveryFailed  = errors.New("verification code could not be delivered")
	ErrAlreadyVerified = errors.New("verification already completed")
)

// Deliverer sends a code to a recipient. Implementations render and mail it.
type Deliverer interface {
	DeliverCode(ctx context.Context, recipient Recipient, code int) error
}

type Recipient struct {
	Email     string
	FirstName string
}

// Challenge owns code generation and checking. It never mutates a state it
// was not handed and never exposes the code through its results.
type Challenge struct {
	deliverer Deliverer
	entropy   io.Reader
}

func NewChallenge(deliverer Deliverer) *Challenge {
	return &Challenge{deliverer: deliverer, entropy: rand.Reader}
}

// WithEntropy swaps the randomness source. Tests use it for fixed codes.
func (c *Challenge) WithEntropy(r io.Reader) *Challenge {
	return &Challenge{deliverer: c.deliverer, entropy: r}
}

// NewCode draws a uniform code in [100000, 999999].
func (c *Challenge) NewCode() (int, error) {
	n, err := rand.Int(c.entropy, big.NewInt(codeSpan))
	if err != nil {
		return 0, fmt.Errorf("generate code: %w", err)
	}
	return codeMin + int(n.Int64()), nil
}

// Issue moves state to Sent. The first call generates the code; later calls
// resend the same one. Sent is only set once delivery succeeded, and a
// delivery failure wraps ErrDeliveryFailed.
func (c *Challenge) Issue(ctx context.Context, state *domain.VerificationState, to Recipient) error {
	if state.Verified {
		return ErrAlreadyVerified
	}
	if state.Code == 0 {
		code, err := c.NewCode()
		if err != nil {
			return err
		}
		state.Code = code
	}

	if err := c.deliverer.DeliverCode(ctx, to, state.Code); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	state.Sent = true
	return nil
}

// Verify checks candidate against a sent code. On a match the state becomes
// Verified; on a mismatch it is left untouched.
func (c *Challenge) Verify(state *domain.VerificationState, candidate string) bool {
	if !state.Sent || state.Verified || state.Code == 0 {
		return false
	}
	if len(candidate) != codeWidth {
		return false
	}
	n, err := strconv.Atoi(candidate)
	if err != nil || n < codeMin {
		return false
	}

	want := strconv.Itoa(state.Code)
	if subtle.ConstantTimeCompare([]byte(want), []byte(candidate)) != 1 {
		return false
	}
	state.Verified = true
	state.Sent = false
	return true
}
