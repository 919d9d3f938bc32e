package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"lingua_chat/model"
	"lingua_chat/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB 每个测试一个独立的内存 SQLite
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := utils.OpenDB(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, utils.Migrate(db))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// createConversation 成员按参数顺序加入
func createConversation(t *testing.T, db *gorm.DB, conversationType string, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	conv := &model.Conversation{ConversationType: conversationType}
	require.NoError(t, db.Create(conv).Error)

	base := time.Now().Add(-time.Hour)
	for i, userID := range members {
		require.NoError(t, db.Create(&model.ConversationMember{
			ConversationID: conv.ID,
			UserID:         userID,
			Role:           "member",
			JoinedAt:       base.Add(time.Duration(i) * time.Second),
		}).Error)
	}
	return conv.ID
}

func setLanguages(t *testing.T, db *gorm.DB, chatID, userID uuid.UUID, my, view string) {
	t.Helper()
	require.NoError(t, db.Create(&model.ChatLanguagePreference{
		ConversationID: chatID,
		UserID:         userID,
		MyLanguage:     my,
		ViewLanguage:   view,
	}).Error)
}

func createTextMessage(t *testing.T, db *gorm.DB, chatID, senderID uuid.UUID, text string) *model.Message {
	t.Helper()
	msg := &model.Message{
		ConversationID: chatID,
		SenderID:       senderID,
		MessageType:    model.MessageTypeText,
		Content:        &text,
		Status:         "sent",
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func block(t *testing.T, db *gorm.DB, userID, targetID uuid.UUID) {
	t.Helper()
	require.NoError(t, db.Create(&model.UserRelationship{
		UserID:           userID,
		TargetUserID:     targetID,
		RelationshipType: model.RelationshipBlocked,
	}).Error)
}

func befriend(t *testing.T, db *gorm.DB, a, b uuid.UUID) {
	t.Helper()
	pair, err := model.NewUserPair(a, b)
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Friendship{
		UserLowID:   pair.Low,
		UserHighID:  pair.High,
		Status:      model.StatusAccepted,
		RequestedBy: a,
	}).Error)
}

type publishedEvent struct {
	Topic string
	Event Event
}

// recordingPublisher 记录所有发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Event: event})
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// mockTranslator testify mock
type mockTranslator struct {
	mock.Mock
}

func (m *mockTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	args := m.Called(ctx, text, from, to)
	return args.String(0), args.Error(1)
}

func (m *mockTranslator) Name() string { return "mock" }

// memoryQueue 进程内 JobQueue，记录调用方式
type memoryQueue struct {
	mu        sync.Mutex
	keys      map[string]string
	ready     []*TranslationJob
	retried   []*TranslationJob
	delays    []time.Duration
	completed []string
	abandoned []string
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{keys: make(map[string]string)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, job *TranslationJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.keys[job.JobKey()]; ok {
		return false, nil
	}
	q.keys[job.JobKey()] = "queued"
	q.ready = append(q.ready, job)
	return true, nil
}

func (q *memoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*TranslationJob, error) {
	q.mu.Lock()
	if len(q.ready) == 0 {
		q.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
		return nil, nil
	}
	defer q.mu.Unlock()
	job := q.ready[0]
	q.ready = q.ready[1:]
	return job, nil
}

func (q *memoryQueue) Retry(ctx context.Context, job *TranslationJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, job)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *memoryQueue) Complete(ctx context.Context, job *TranslationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys[job.JobKey()] = "done"
	q.completed = append(q.completed, job.JobKey())
	return nil
}

func (q *memoryQueue) Abandon(ctx context.Context, job *TranslationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys[job.JobKey()] = "failed"
	q.abandoned = append(q.abandoned, job.JobKey())
	return nil
}

func (q *memoryQueue) Release(ctx context.Context, messageID uuid.UUID, lang string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := TranslationJobKey(messageID, lang)
	if q.keys[key] == jobStateQueued {
		return false, nil
	}
	delete(q.keys, key)
	return true, nil
}

func (q *memoryQueue) readyLangs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	langs := make([]string, 0, len(q.ready))
	for _, job := range q.ready {
		langs = append(langs, job.ToLang)
	}
	return langs
}

// raceOnCreate 第一次创建 T 之前，在同一事务里先插入一条竞争记录，模拟并发创建的赢家
func raceOnCreate[T any](t *testing.T, db *gorm.DB, winner *T) {
	t.Helper()
	fired := false
	name := fmt.Sprintf("test:race_on_create:%T", winner)
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*T); !ok || fired {
			return
		}
		// 竞争记录自己的创建也会经过这里
		fired = true
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Create(winner).Error)
	}))
}
