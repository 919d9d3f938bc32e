package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	translationQueueKey   = "queue:translation"
	translationDelayedKey = "queue:translation:delayed"

	// DedupRetention 任务完成 / 放弃后去重键保留时长
	DedupRetention = 24 * time.Hour
	// 进行中的去重键 TTL，worker 崩溃后任务可以被重新触发
	dedupInFlightTTL = time.Hour
	promoteBatch     = 100

	// 去重键的值
	jobStateQueued = "queued"
	jobStateDone   = "done"
	jobStateFailed = "failed"
)

// TranslationJob 单条消息 + 单个目标语言的翻译任务
type TranslationJob struct {
	ID              uuid.UUID `json:"id"`
	MessageID       uuid.UUID `json:"message_id"`
	ChatID          uuid.UUID `json:"chat_id"`
	FromLang        string    `json:"from_lang"`
	ToLang          string    `json:"to_lang"`
	OriginalContent string    `json:"original_content"`
	Attempt         int       `json:"attempt"`
}

// JobKey 去重键：同一条消息同一语言同时最多一个任务
func (j *TranslationJob) JobKey() string {
	return TranslationJobKey(j.MessageID, j.ToLang)
}

func TranslationJobKey(messageID uuid.UUID, lang string) string {
	return "translation:" + messageID.String() + ":" + lang
}

// JobQueue 翻译任务队列
type JobQueue interface {
	// Enqueue 去重键已存在时返回 false，不入队
	Enqueue(ctx context.Context, job *TranslationJob) (bool, error)
	// Dequeue 最多等待 wait，超时返回 nil, nil
	Dequeue(ctx context.Context, wait time.Duration) (*TranslationJob, error)
	Retry(ctx context.Context, job *TranslationJob, delay time.Duration) error
	Complete(ctx context.Context, job *TranslationJob) error
	Abandon(ctx context.Context, job *TranslationJob) error
	// Release 任务已结束（完成 / 放弃）或去重键不存在时删除去重键并返回 true，
	// 任务仍在排队、延迟重试或执行中时返回 false
	Release(ctx context.Context, messageID uuid.UUID, lang string) (bool, error)
}

// RedisJobQueue 基于 Redis List + ZSET 的任务队列
// 就绪任务在 List 里（LPUSH / BRPOP），延迟重试在 ZSET 里（score = 到期毫秒时间戳）
type RedisJobQueue struct {
	rdb *redis.Client
}

func NewRedisJobQueue(rdb *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{rdb: rdb}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job *TranslationJob) (bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job: %w", err)
	}

	key := job.JobKey()
	ok, err := q.rdb.SetNX(ctx, key, jobStateQueued, dedupInFlightTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	if err := q.rdb.LPush(ctx, translationQueueKey, payload).Err(); err != nil {
		q.rdb.Del(ctx, key)
		return false, fmt.Errorf("failed to push job %s: %w", key, err)
	}
	return true, nil
}

func (q *RedisJobQueue) Dequeue(ctx context.Context, wait time.Duration) (*TranslationJob, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	result, err := q.rdb.BRPop(ctx, wait, translationQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	var job TranslationJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// promoteDue 把到期的延迟任务移回就绪队列，ZREM 成功的那个 worker 负责搬运
func (q *RedisJobQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, translationDelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan delayed jobs: %w", err)
	}

	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, translationDelayedKey, member).Result()
		if err != nil {
			return fmt.Errorf("failed to claim delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, translationQueueKey, member).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
	}
	return nil
}

func (q *RedisJobQueue) Retry(ctx context.Context, job *TranslationJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	dueAt := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, translationDelayedKey, redis.Z{Score: float64(dueAt), Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", job.JobKey(), err)
	}
	q.rdb.Expire(ctx, job.JobKey(), dedupInFlightTTL+delay)
	return nil
}

func (q *RedisJobQueue) Complete(ctx context.Context, job *TranslationJob) error {
	return q.rdb.Set(ctx, job.JobKey(), jobStateDone, DedupRetention).Err()
}

func (q *RedisJobQueue) Abandon(ctx context.Context, job *TranslationJob) error {
	return q.rdb.Set(ctx, job.JobKey(), jobStateFailed, DedupRetention).Err()
}

// releaseScript 读状态和删除在同一个脚本里完成，避免和 Enqueue 交错
var releaseScript = redis.NewScript(`
local state = redis.call("GET", KEYS[1])
if state == ARGV[1] then
	return 0
end
if state then
	redis.call("DEL", KEYS[1])
end
return 1
`)

func (q *RedisJobQueue) Release(ctx context.Context, messageID uuid.UUID, lang string) (bool, error) {
	key := TranslationJobKey(messageID, lang)
	released, err := releaseScript.Run(ctx, q.rdb, []string{key}, jobStateQueued).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release job %s: %w", key, err)
	}
	return released == 1, nil
}

// Pending 就绪 + 延迟任务数
func (q *RedisJobQueue) Pending(ctx context.Context) (int64, error) {
	ready, err := q.rdb.LLen(ctx, translationQueueKey).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, translationDelayedKey).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}
