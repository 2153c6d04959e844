// Package otp generates one-time passwords drawn from a character pool.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/knadh/verifybot/pkg/models"
)

// ErrInvalidConfig is returned when the OTP pool, length or lifetime
// can't produce a password.
var ErrInvalidConfig = errors.New("invalid OTP configuration")

// Validate checks whether an OTP can be generated with the given pool,
// length and lifetime.
func Validate(pool string, length int, ttl time.Duration) error {
	if len(pool) == 0 {
		return fmt.Errorf("%w: empty character pool", ErrInvalidConfig)
	}
	if length <= 0 {
		return fmt.Errorf("%w: length should be > 0", ErrInvalidConfig)
	}
	if ttl < 0 {
		return fmt.Errorf("%w: negative lifetime", ErrInvalidConfig)
	}
	return nil
}

// Generate generates an OTP of length characters drawn independently and
// uniformly from pool. The OTP expires ttl after now.
func Generate(pool string, length int, ttl time.Duration, now time.Time) (models.OTP, error) {
	if err := Validate(pool, length, ttl); err != nil {
		return models.OTP{}, err
	}

	var (
		chars = []rune(pool)
		max   = big.NewInt(int64(len(chars)))
		out   = make([]rune, length)
	)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return models.OTP{}, err
		}
		out[i] = chars[n.Int64()]
	}

	return models.OTP{
		Password: string(out),
		Expiry:   now.Add(ttl),
	}, nil
}
