package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_MainPath(t *testing.T) {
	s := StatusUnmatched
	var err error
	for _, next := range []Status{StatusCandidateProposed, StatusLinked, StatusVerified} {
		s, err = Transition(s, next)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusVerified, s)
}

func TestTransition_DisputeReturnsToUnmatched(t *testing.T) {
	s, err := Transition(StatusLinked, StatusDisputed)
	require.NoError(t, err)
	s, err = Transition(s, StatusUnmatched)
	require.NoError(t, err)
	assert.Equal(t, StatusUnmatched, s)
}

func TestTransition_Rejected(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusExcluded, StatusUnmatched},
		{StatusExcluded, StatusLinked},
		{StatusUnmatched, StatusVerified},
		{StatusVerified, StatusUnmatched},
		{StatusDisputed, StatusLinked},
		{StatusLinked, StatusUnmatched},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, got)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusExcluded.IsTerminal())
	assert.False(t, StatusLinked.IsTerminal())
	assert.True(t, StatusCandidateProposed.IsOpen())
	assert.False(t, StatusVerified.IsOpen())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("linked")
	require.NoError(t, err)
	assert.Equal(t, StatusLinked, s)

	_, err = ParseStatus("matched")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
