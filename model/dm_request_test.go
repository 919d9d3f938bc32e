package model

import (
	"testing"

	"lingua_chat/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(initiator, other uuid.UUID, status RelationStatus) *DmRequest {
	pair, _ := NewUserPair(initiator, other)
	return &DmRequest{UserLowID: pair.Low, UserHighID: pair.High, InitiatedBy: initiator, Status: status}
}

func TestNextOnSend(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		req    *DmRequest
		sender uuid.UUID
		want   RelationStatus
	}{
		{"no row creates pending", nil, a, StatusPending},
		{"initiator sends again", newRequest(a, b, StatusPending), a, StatusPending},
		{"reply auto accepts", newRequest(a, b, StatusPending), b, StatusAccepted},
		{"declined resets on initiator send", newRequest(a, b, StatusDeclined), a, StatusPending},
		{"declined resets on other send", newRequest(a, b, StatusDeclined), b, StatusPending},
		{"accepted stays accepted", newRequest(a, b, StatusAccepted), a, StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOnSend(tt.req, tt.sender)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextOnSend_BlockedIsTerminal(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	_, err := NextOnSend(newRequest(a, b, StatusBlocked), b)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestExplicitTransitions(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	got, err := NextOnAccept(newRequest(a, b, StatusPending), b)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got)

	got, err = NextOnDecline(newRequest(a, b, StatusPending), b)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, got)

	got, err = NextOnBlock(newRequest(a, b, StatusAccepted), b)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got)

	_, err = NextOnAccept(newRequest(a, b, StatusPending), a)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden), "initiator cannot accept own request")

	_, err = NextOnDecline(newRequest(a, b, StatusAccepted), b)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	_, err = NextOnAccept(nil, b)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestDmStateOf(t *testing.T) {
	assert.Equal(t, DmStateNone, DmStateOf(nil))
	assert.Equal(t, StatusDeclined, DmStateOf(&DmRequest{Status: StatusDeclined}))
}
