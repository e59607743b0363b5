// Package invitecode issues the short shareable codes users hand to invitees.
package invitecode

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/smallbiznis/photoledger/internal/apperror"
)

const (
	Length          = 8
	Alphabet        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultAttempts = 10
)

var ErrCodeSpaceExhausted = apperror.New(apperror.KindCapacity, "invite_code_exhausted")

// ExistsFunc reports whether code is already assigned.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

type Generator struct {
	attempts int
	random   func() (string, error)
}

func NewGenerator(attempts int) *Generator {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Generator{attempts: attempts, random: Random}
}

// Generate draws codes until exists reports a free one or the attempt budget
// runs out.
func (g *Generator) Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := g.random()
		if err != nil {
			return "", err
		}
		if exists == nil {
			return code, nil
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, g.attempts)
}

// Random returns one code drawn uniformly from Alphabet.
func Random() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("invite code entropy: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize uppercases and trims user input. It returns "" for anything that
// cannot be a valid code.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != Length {
		return ""
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return ""
		}
	}
	return code
}
