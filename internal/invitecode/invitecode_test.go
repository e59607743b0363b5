package invitecode

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomUsesAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := Random()
		require.NoError(t, err)
		require.Len(t, code, Length)
		assert.Equal(t, code, Normalize(code))
	}
}

func TestGenerateSkipsTakenCodes(t *testing.T) {
	g := NewGenerator(5)
	calls := 0
	code, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, err)
	assert.Len(t, code, Length)
	assert.Equal(t, 3, calls)
}

func TestGenerateGivesUpAfterBudget(t *testing.T) {
	g := NewGenerator(4)
	calls := 0
	_, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, apperror.KindCapacity, apperror.KindOf(err))
	assert.Equal(t, 4, calls)
}

func TestGeneratePropagatesLookupErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewGenerator(0).Generate(context.Background(), func(context.Context, string) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ABCD2345", Normalize(" abcd2345 "))
	assert.Equal(t, "", Normalize("ABCD0123"))
	assert.Equal(t, "", Normalize("SHORT"))
}
