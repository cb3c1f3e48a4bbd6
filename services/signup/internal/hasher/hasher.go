package hasher

import (
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/diagnosis/luxsuv-signup/pkg/config"
	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// Hasher produces salted, self-describing password digests. New digests are
// argon2id; bcrypt digests from earlier accounts still verify.
type Hasher struct {
	params *argon2id.Params
}

func New(cfg config.HasherConfig) *Hasher {
	params := *argon2id.DefaultParams
	if cfg.Memory > 0 {
		params.Memory = cfg.Memory
	}
	if cfg.Iterations > 0 {
		params.Iterations = cfg.Iterations
	}
	if cfg.Parallelism > 0 {
		params.Parallelism = cfg.Parallelism
	}
	if cfg.SaltLength > 0 {
		params.SaltLength = cfg.SaltLength
	}
	if cfg.KeyLength > 0 {
		params.KeyLength = cfg.KeyLength
	}
	return &Hasher{params: &params}
}

func (h *Hasher) Hash(secret string) (string, error) {
	return argon2id.CreateHash(secret, h.params)
}

// Verify reports whether secret produces digest. Malformed digests verify
// as false.
func (h *Hasher) Verify(secret, digest string) bool {
	if isBcrypt(digest) {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
		if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.Warn("Malformed bcrypt digest", "error", err)
		}
		return err == nil
	}

	ok, err := argon2id.ComparePasswordAndHash(secret, digest)
	if err != nil {
		logger.Warn("Malformed argon2id digest", "error", err)
		return false
	}
	return ok
}

// NeedsRehash reports digests that should be replaced with the current
// argon2id parameters on next successful login.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	params, _, _, err := argon2id.DecodeHash(digest)
	if err != nil {
		return true
	}
	return params.Memory != h.params.Memory ||
		params.Iterations != h.params.Iterations ||
		params.Parallelism != h.params.Parallelism
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}
