package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionValidEdges(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
	}{
		{SessionStatusInitiated, SessionStatusChallengeSent},
		{SessionStatusChallengeSent, SessionStatusAwaitingSignature},
		{SessionStatusAwaitingSignature, SessionStatusSigning},
		{SessionStatusSigning, SessionStatusCompleted},
		{SessionStatusInitiated, SessionStatusFailed},
		{SessionStatusChallengeSent, SessionStatusExpired},
	}
	for _, c := range cases {
		require.True(t, CanTransition(c.from, c.to), "%s -> %s should be legal", c.from, c.to)
	}
}

func TestCanTransitionRejectsSkippedStates(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
	}{
		{SessionStatusInitiated, SessionStatusAwaitingSignature},
		{SessionStatusInitiated, SessionStatusSigning},
		{SessionStatusInitiated, SessionStatusCompleted},
		{SessionStatusChallengeSent, SessionStatusSigning},
		{SessionStatusChallengeSent, SessionStatusCompleted},
		{SessionStatusAwaitingSignature, SessionStatusCompleted},
	}
	for _, c := range cases {
		require.False(t, CanTransition(c.from, c.to), "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestCanTransitionRejectsFromTerminal(t *testing.T) {
	for _, from := range []SessionStatus{SessionStatusCompleted, SessionStatusFailed, SessionStatusExpired} {
		require.False(t, CanTransition(from, SessionStatusChallengeSent))
		require.False(t, CanTransition(from, SessionStatusCompleted))
	}
}

func TestCanonicalSessionStatusResolvesAliases(t *testing.T) {
	require.Equal(t, SessionStatusInitiated, CanonicalSessionStatus("pending"))
	require.Equal(t, SessionStatusAwaitingSignature, CanonicalSessionStatus("response_received"))
	require.Equal(t, SessionStatusCompleted, CanonicalSessionStatus("completed"))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, SessionStatusCompleted.IsTerminal())
	require.True(t, SessionStatusFailed.IsTerminal())
	require.True(t, SessionStatusExpired.IsTerminal())
	require.False(t, SessionStatusInitiated.IsTerminal())
	require.False(t, SessionStatusSigning.IsTerminal())
}
