package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Timestamps(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := base
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	ctx := context.Background()
	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), conv.CreatedAt)

	msg, err := s.AppendMessage(ctx, conv.ID, RoleAgent, "ok")
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Second), msg.CreatedAt)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt, got.UpdatedAt)
	assert.Equal(t, conv.CreatedAt, got.CreatedAt)
}
