package service

import (
	"context"
	"testing"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroupConversation_KeepsMemberOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewConversationService(db)
	owner, a, b := uuid.New(), uuid.New(), uuid.New()

	conv, err := svc.CreateGroupConversation(ctx, owner, "  travel  ", []uuid.UUID{b, a, b, owner})
	require.NoError(t, err)
	assert.Equal(t, "travel", *conv.GroupName)

	members, err := NewMessageService(db, nil, nil, nil, nil).GetConversationMembers(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{owner, b, a}, members)

	_, err = svc.CreateGroupConversation(ctx, owner, " ", nil)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewConversationService(db)
	owner, a, b, c := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	conv, err := svc.CreateGroupConversation(ctx, owner, "team", []uuid.UUID{a})
	require.NoError(t, err)

	err = svc.AddMembersToGroup(ctx, a, conv.ID, []uuid.UUID{b})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden), "plain members cannot add")

	require.NoError(t, svc.AddMembersToGroup(ctx, owner, conv.ID, []uuid.UUID{b, c, a}))
	var count int64
	require.NoError(t, db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND left_at IS NULL", conv.ID).Count(&count).Error)
	assert.Equal(t, int64(4), count)

	err = svc.RemoveMemberFromGroup(ctx, owner, conv.ID, owner)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	require.NoError(t, svc.RemoveMemberFromGroup(ctx, owner, conv.ID, c))
	err = svc.RemoveMemberFromGroup(ctx, owner, conv.ID, c)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	require.NoError(t, svc.LeaveGroup(ctx, b, conv.ID))
	err = svc.LeaveGroup(ctx, owner, conv.ID)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	// 离开的成员不再参与目标语言计算
	langSvc := NewLanguagePreferenceService(db)
	_, err = langSvc.SetLanguagePreference(ctx, a, conv.ID, "fr", "fr")
	require.NoError(t, err)
	langs, err := langSvc.ViewLanguages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "fr"}, langs)

	private := createConversation(t, db, model.ConversationPrivate, owner, a)
	err = svc.LeaveGroup(ctx, a, private)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestGetConversations_UnreadCounts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewConversationService(db)
	msgSvc := NewMessageService(db, nil, NewSystemSettingsService(db), NewPermissionService(db), NewDmRequestService(db))
	alice, bob := uuid.New(), uuid.New()

	group, err := svc.CreateGroupConversation(ctx, alice, "g", []uuid.UUID{bob})
	require.NoError(t, err)
	_, err = msgSvc.SendMessage(ctx, alice, textIn(group.ID, "hi"))
	require.NoError(t, err)
	_, err = msgSvc.SendMessage(ctx, alice, textIn(group.ID, "again"))
	require.NoError(t, err)

	items, err := svc.GetConversations(ctx, bob, 20, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, group.ID, items[0].ID)
	assert.Equal(t, 2, items[0].UnreadCount)
}
