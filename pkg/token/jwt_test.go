package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketManager_IssueAndVerify(t *testing.T) {
	m := NewTicketManager("ticket-secret", time.Minute)
	ticket, expiresAt, err := m.Issue(42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 2*time.Second)

	claims, err := m.Verify(ticket)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.ChatID)
	assert.Equal(t, "chat:42", claims.Subject)
}

func TestTicketManager_Rejects(t *testing.T) {
	m := NewTicketManager("ticket-secret", time.Minute)
	ticket, _, err := m.Issue(1)
	require.NoError(t, err)

	_, err = NewTicketManager("other-secret", time.Minute).Verify(ticket)
	assert.Error(t, err)

	expired := NewTicketManager("ticket-secret", time.Nanosecond)
	old, _, err := expired.Issue(1)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = m.Verify(old)
	assert.Error(t, err)

	_, err = m.Verify("not-a-jwt")
	assert.Error(t, err)
}
