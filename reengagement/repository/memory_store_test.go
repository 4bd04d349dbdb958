package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericsoncardosoweb/apollo-ai/reengagement"
)

func TestMemoryStore_StaleConversationFiltering(t *testing.T) {
	store := NewMemoryConversationStore()
	ctx := context.Background()
	now := time.Now()

	base := reengagement.Conversation{
		TenantID: "t1", AgentID: "a1", Phone: "5511999990000",
		Status: reengagement.ConversationStatusActive,
		Mode:   reengagement.ConversationModeAI,
	}

	stale := base
	stale.ID = "stale"
	stale.LastMessageAt = now.Add(-3 * time.Hour)
	store.PutConversation(stale, reengagement.SenderAI)

	fresh := base
	fresh.ID = "fresh"
	fresh.LastMessageAt = now.Add(-time.Minute)
	store.PutConversation(fresh, reengagement.SenderAI)

	human := base
	human.ID = "human"
	human.Mode = "human"
	human.LastMessageAt = now.Add(-3 * time.Hour)
	store.PutConversation(human, reengagement.SenderAI)

	exhausted := base
	exhausted.ID = "exhausted"
	exhausted.LastMessageAt = now.Add(-3 * time.Hour)
	exhausted.ReengagementAttempts = 3
	store.PutConversation(exhausted, reengagement.SenderAI)

	out, err := store.StaleConversations(ctx, "a1", now.Add(-2*time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "stale", out[0].ID)
}

func TestMemoryStore_ConditionalIncrement(t *testing.T) {
	store := NewMemoryConversationStore()
	ctx := context.Background()

	store.PutConversation(reengagement.Conversation{
		ID: "c1", TenantID: "t1", AgentID: "a1",
		Status: reengagement.ConversationStatusActive,
		Mode:   reengagement.ConversationModeAI,
	}, reengagement.SenderAI)

	ok, err := store.IncrementAttempts(ctx, "c1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Attempts("c1"))

	// A second claim on the same prior value loses.
	ok, err = store.IncrementAttempts(ctx, "c1", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Attempts("c1"))

	ok, err = store.IncrementAttempts(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_GetConversationScopedToTenant(t *testing.T) {
	store := NewMemoryConversationStore()
	ctx := context.Background()

	store.PutConversation(reengagement.Conversation{ID: "c1", TenantID: "t1"}, reengagement.SenderAI)

	conv, err := store.GetConversation(ctx, "t1", "c1")
	require.NoError(t, err)
	require.NotNil(t, conv)

	conv, err = store.GetConversation(ctx, "t2", "c1")
	require.NoError(t, err)
	assert.Nil(t, conv)
}
