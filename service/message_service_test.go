package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type messageFixture struct {
	db    *gorm.DB
	pub   *recordingPublisher
	svc   *MessageService
	dmSvc *DmRequestService
}

func newMessageFixture(t *testing.T) *messageFixture {
	db := newTestDB(t)
	pub := &recordingPublisher{}
	dmSvc := NewDmRequestService(db)
	dmSvc.SetPublisher(pub)
	svc := NewMessageService(db, newTestRedis(t), NewSystemSettingsService(db), NewPermissionService(db), dmSvc)
	svc.SetPublisher(pub)
	return &messageFixture{db: db, pub: pub, svc: svc, dmSvc: dmSvc}
}

func textTo(receiver uuid.UUID, text string) *SendMessageRequest {
	return &SendMessageRequest{ReceiverID: &receiver, MessageType: model.MessageTypeText, Content: &text}
}

func textIn(chatID uuid.UUID, text string) *SendMessageRequest {
	return &SendMessageRequest{ConversationID: chatID, MessageType: model.MessageTypeText, Content: &text}
}

func TestSendMessage_FirstContactOpensDmRequest(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()

	msg, err := f.svc.SendMessage(ctx, alice, textTo(bob, "hi bob"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ConversationID)

	req, err := f.dmSvc.GetDmRequest(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, alice, req.InitiatedBy)

	// 第二条消息复用同一个会话
	again, err := f.svc.SendMessage(ctx, alice, textTo(bob, "are you there?"))
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, again.ConversationID)

	var member model.ConversationMember
	require.NoError(t, f.db.Where("conversation_id = ? AND user_id = ?", msg.ConversationID, bob).First(&member).Error)
	assert.Equal(t, 2, member.UnreadCount)

	events := f.pub.ofType(EventMessage)
	require.Len(t, events, 2)
	assert.Equal(t, ChatTopic(msg.ConversationID), events[0].Topic)
}

func TestSendMessage_ReplyAcceptsDmRequest(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()

	msg, err := f.svc.SendMessage(ctx, alice, textTo(bob, "hi"))
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, bob, textIn(msg.ConversationID, "hello"))
	require.NoError(t, err)

	req, err := f.dmSvc.GetDmRequest(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, req.Status)
	assert.Len(t, f.pub.ofType(EventDmRequestUpdated), 2, "both sides are told")
}

func TestSendMessage_BlockedIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()
	block(t, f.db, bob, alice)

	_, err := f.svc.SendMessage(ctx, alice, textTo(bob, "hi"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	assert.Equal(t, ReasonBlockedByReceiver, apperr.MessageOf(err))

	var conversations int64
	require.NoError(t, f.db.Model(&model.Conversation{}).Count(&conversations).Error)
	assert.Zero(t, conversations, "no conversation for a blocked pair")

	// 会话已存在时同样被拒绝
	chatID := createConversation(t, f.db, model.ConversationPrivate, alice, bob)
	_, err = f.svc.SendMessage(ctx, alice, textIn(chatID, "hi"))
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	_, err = f.svc.SendMessage(ctx, bob, textIn(chatID, "hi"))
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	assert.Equal(t, ReasonBlockedBySender, apperr.MessageOf(err))
}

func TestSendMessage_FriendsSkipDmRequest(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()
	befriend(t, f.db, alice, bob)

	_, err := f.svc.SendMessage(ctx, alice, textTo(bob, "hey friend"))
	require.NoError(t, err)

	_, err = f.dmSvc.GetDmRequest(ctx, alice, bob)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestSendMessage_DmRequestsDisabled(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	require.NoError(t, f.svc.sysSvc.UpdateSetting(ctx, "enable_dm_requests", "false"))
	alice, bob := uuid.New(), uuid.New()

	_, err := f.svc.SendMessage(ctx, alice, textTo(bob, "hi"))
	require.NoError(t, err)

	_, err = f.dmSvc.GetDmRequest(ctx, alice, bob)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestSendMessage_Validation(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()
	chatID := createConversation(t, f.db, model.ConversationGroup, alice, bob)
	empty := ""

	cases := []struct {
		name string
		req  *SendMessageRequest
		code apperr.Code
	}{
		{"empty text", &SendMessageRequest{ConversationID: chatID, MessageType: model.MessageTypeText, Content: &empty}, apperr.CodeValidation},
		{"unknown type", &SendMessageRequest{ConversationID: chatID, MessageType: "audio"}, apperr.CodeValidation},
		{"no target", &SendMessageRequest{MessageType: model.MessageTypeEmoji}, apperr.CodeValidation},
		{"self", textTo(alice, "me"), apperr.CodeValidation},
		{"missing conversation", textIn(uuid.New(), "hi"), apperr.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, alice, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}

	_, err := f.svc.SendMessage(ctx, uuid.New(), textIn(chatID, "intruder"))
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	foreign := uuid.New()
	req := textIn(chatID, "reply")
	req.ReplyToMessageID = &foreign
	_, err = f.svc.SendMessage(ctx, alice, req)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestRecallMessage(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()
	chatID := createConversation(t, f.db, model.ConversationGroup, alice, bob)

	msg, err := f.svc.SendMessage(ctx, alice, textIn(chatID, "oops"))
	require.NoError(t, err)

	_, err = f.svc.RecallMessage(ctx, bob, msg.ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	recalled, err := f.svc.RecallMessage(ctx, alice, msg.ID)
	require.NoError(t, err)
	assert.True(t, recalled.IsRecalled)
	assert.NotNil(t, recalled.RecalledAt)
	assert.Len(t, f.pub.ofType(EventRecalled), 1)

	_, err = f.svc.RecallMessage(ctx, alice, msg.ID)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	old, err := f.svc.SendMessage(ctx, alice, textIn(chatID, "old news"))
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.Message{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-RecallWindow-time.Minute)).Error)
	_, err = f.svc.RecallMessage(ctx, alice, old.ID)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = f.svc.RecallMessage(ctx, alice, uuid.New())
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestMarkConversationRead(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()
	chatID := createConversation(t, f.db, model.ConversationGroup, alice, bob)

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, alice, textIn(chatID, "ping"))
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.MarkConversationRead(ctx, bob, chatID))

	var member model.ConversationMember
	require.NoError(t, f.db.Where("conversation_id = ? AND user_id = ?", chatID, bob).First(&member).Error)
	assert.Zero(t, member.UnreadCount)

	members, err := f.svc.GetConversationMembers(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{alice, bob}, members)

	err = f.svc.MarkConversationRead(ctx, uuid.New(), chatID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	err = f.svc.MarkConversationRead(ctx, bob, uuid.New())
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestSendMessage_BlockDuringSendIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t)
	alice, bob := uuid.New(), uuid.New()
	chatID := createConversation(t, f.db, model.ConversationPrivate, alice, bob)

	// 权限判定读完好友关系后 bob 拉黑 alice，发送事务还没开始
	var once sync.Once
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:block_after_check", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*model.Friendship); !ok {
			return
		}
		once.Do(func() {
			block(t, f.db.Session(&gorm.Session{NewDB: true}), bob, alice)
		})
	}))

	_, err := f.svc.SendMessage(ctx, alice, textIn(chatID, "hi"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	assert.Equal(t, ReasonBlockedByReceiver, apperr.MessageOf(err))

	var messages, requests int64
	require.NoError(t, f.db.Model(&model.Message{}).Where("conversation_id = ?", chatID).Count(&messages).Error)
	require.NoError(t, f.db.Model(&model.DmRequest{}).Count(&requests).Error)
	assert.Zero(t, messages)
	assert.Zero(t, requests)
	assert.Empty(t, f.pub.ofType(EventMessage))
}
