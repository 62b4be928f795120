package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

func TestConversationRepository_AppendReusesActiveConversation(t *testing.T) {
	repo := NewConversationRepository(newTestDB(t))
	ctx := context.Background()
	window := time.Now().Add(-time.Hour)

	first := &model.Message{Role: model.RoleUser, Content: "hola"}
	conv, err := repo.Append(ctx, "t1", "099", window, first)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, first.ConversationID)

	second := &model.Message{Role: model.RoleUser, Content: "¿siguen ahí?"}
	again, err := repo.Append(ctx, "t1", "099", window, second)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	other, err := repo.Append(ctx, "t1", "098", window, &model.Message{Role: model.RoleUser, Content: "x"})
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)

	otherTenant, err := repo.Append(ctx, "t2", "099", window, &model.Message{Role: model.RoleUser, Content: "x"})
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, otherTenant.ID)

	msgs, err := repo.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hola", msgs[0].Content)
	assert.Equal(t, "¿siguen ahí?", msgs[1].Content)
}

func TestConversationRepository_StaleConversationStartsANewOne(t *testing.T) {
	repo := NewConversationRepository(newTestDB(t))
	ctx := context.Background()

	conv, err := repo.Append(ctx, "t1", "099", time.Now().Add(-time.Hour), &model.Message{Role: model.RoleUser, Content: "a"})
	require.NoError(t, err)

	// a window starting in the future makes every conversation stale
	fresh, err := repo.Append(ctx, "t1", "099", time.Now().Add(time.Minute), &model.Message{Role: model.RoleUser, Content: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, fresh.ID)
}

func TestConversationRepository_ClosedConversationIsNotReused(t *testing.T) {
	repo := NewConversationRepository(newTestDB(t))
	ctx := context.Background()
	window := time.Now().Add(-time.Hour)

	conv, err := repo.Append(ctx, "t1", "099", window, &model.Message{Role: model.RoleUser, Content: "a"})
	require.NoError(t, err)

	require.ErrorIs(t, repo.Close(ctx, "t2", conv.ID), ErrNotFound)
	require.NoError(t, repo.Close(ctx, "t1", conv.ID))

	_, err = repo.Active(ctx, "t1", "099", window)
	require.ErrorIs(t, err, ErrNotFound)

	next, err := repo.Append(ctx, "t1", "099", window, &model.Message{Role: model.RoleUser, Content: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, next.ID)
}

func TestConversationRepository_CloseIdle(t *testing.T) {
	repo := NewConversationRepository(newTestDB(t))
	ctx := context.Background()
	window := time.Now().Add(-time.Hour)

	_, err := repo.Append(ctx, "t1", "099", window, &model.Message{Role: model.RoleUser, Content: "a"})
	require.NoError(t, err)
	_, err = repo.Append(ctx, "t1", "098", window, &model.Message{Role: model.RoleUser, Content: "b"})
	require.NoError(t, err)

	n, err := repo.CloseIdle(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.CloseIdle(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CloseIdle(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConversationRepository_GetAndList(t *testing.T) {
	repo := NewConversationRepository(newTestDB(t))
	ctx := context.Background()
	window := time.Now().Add(-time.Hour)

	var ids []string
	for _, phone := range []string{"091", "092", "093"} {
		c, err := repo.Append(ctx, "t1", phone, window, &model.Message{Role: model.RoleUser, Content: phone})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	require.NoError(t, repo.AddMessage(ctx, &model.Message{ConversationID: ids[0], Role: model.RoleAssistant, Content: "respuesta"}))

	conv, err := repo.Get(ctx, "t1", ids[0])
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)

	_, err = repo.Get(ctx, "t2", ids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	page, total, err := repo.List(ctx, "t1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID, "the conversation with the newest message comes first")

	rest, _, err := repo.List(ctx, "t1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestConversationRepository_TokenUsage(t *testing.T) {
	repo := NewConversationRepository(newTestDB(t))
	ctx := context.Background()
	window := time.Now().Add(-time.Hour)
	day := time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)

	c1, err := repo.Append(ctx, "t1", "099", window, &model.Message{Role: model.RoleUser, Content: "a"})
	require.NoError(t, err)
	c2, err := repo.Append(ctx, "t2", "099", window, &model.Message{Role: model.RoleUser, Content: "b"})
	require.NoError(t, err)

	add := func(convID string, at time.Time, prompt, completion int) {
		require.NoError(t, repo.AddMessage(ctx, &model.Message{
			Base:             model.Base{CreatedAt: at},
			ConversationID:   convID,
			Role:             model.RoleAssistant,
			Content:          "r",
			PromptTokens:     prompt,
			CompletionTokens: completion,
		}))
	}
	add(c1.ID, day, 100, 10)
	add(c1.ID, day.Add(time.Hour), 50, 5)
	add(c2.ID, day, 7, 3)
	add(c1.ID, day.AddDate(0, 0, -5), 1000, 1000)

	rows, err := repo.TokenUsage(ctx, day.Add(-time.Hour), day.Add(24*time.Hour), "")
	require.NoError(t, err)
	byTenant := map[string]TokenUsage{}
	for _, r := range rows {
		byTenant[r.TenantID] = r
	}
	assert.Equal(t, TokenUsage{TenantID: "t1", PromptTokens: 150, CompletionTokens: 15}, byTenant["t1"])
	assert.Equal(t, TokenUsage{TenantID: "t2", PromptTokens: 7, CompletionTokens: 3}, byTenant["t2"])

	only, err := repo.TokenUsage(ctx, day.Add(-time.Hour), day.Add(24*time.Hour), "t2")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "t2", only[0].TenantID)

	// the end of the range is exclusive
	edge, err := repo.TokenUsage(ctx, day.Add(-time.Hour), day, "t1")
	require.NoError(t, err)
	assert.Empty(t, edge)
}
