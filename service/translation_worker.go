package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"lingua_chat/model"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkerOptions 翻译 worker 参数，零值使用默认值
type WorkerOptions struct {
	Concurrency     int
	RatePerSec      float64
	MaxAttempts     int
	BackoffBase     time.Duration
	ProviderTimeout time.Duration
	PollWait        time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 10 * time.Second
	}
	if o.PollWait <= 0 {
		o.PollWait = 2 * time.Second
	}
	return o
}

// TranslationWorker 消费翻译任务，所有 goroutine 共用一个限流器
type TranslationWorker struct {
	db         *gorm.DB
	queue      JobQueue
	translator Translator
	publisher  EventPublisher
	opts       WorkerOptions
	limiter    *rate.Limiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewTranslationWorker(db *gorm.DB, queue JobQueue, translator Translator, publisher EventPublisher, opts WorkerOptions) *TranslationWorker {
	opts = opts.withDefaults()
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &TranslationWorker{
		db:         db,
		queue:      queue,
		translator: translator,
		publisher:  publisher,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

// Start 启动 Concurrency 个消费协程
func (w *TranslationWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	log.Printf("[INFO] Translation worker started: concurrency=%d, rate=%.1f/s, provider=%s",
		w.opts.Concurrency, w.opts.RatePerSec, w.translator.Name())
}

// Stop 停止消费并等待进行中的任务结束
func (w *TranslationWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *TranslationWorker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx, w.opts.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[ERROR] Translation worker %d: dequeue failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			// 关闭中，把任务放回去
			if rerr := w.queue.Retry(context.Background(), job, 0); rerr != nil {
				log.Printf("[ERROR] Translation worker %d: failed to requeue %s: %v", id, job.JobKey(), rerr)
			}
			return
		}

		if err := w.ProcessJob(ctx, job); err != nil {
			log.Printf("[ERROR] Translation job %s failed: %v", job.JobKey(), err)
		}
	}
}

// ProcessJob 处理单个任务
// 消息不存在或已撤回直接放弃；已有译文视为成功；翻译失败按指数退避重试
func (w *TranslationWorker) ProcessJob(ctx context.Context, job *TranslationJob) error {
	// 队列状态的写入不随 Stop 取消，否则任务丢失且去重键一直停在 queued
	queueCtx := context.WithoutCancel(ctx)

	var msg model.Message
	err := w.db.WithContext(ctx).Where("id = ?", job.MessageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && msg.IsRecalled) {
		log.Printf("[WARN] Translation job %s abandoned: message gone or recalled", job.JobKey())
		return w.queue.Abandon(queueCtx, job)
	}
	if err != nil {
		return w.retryOrAbandon(ctx, job, fmt.Errorf("failed to load message: %w", err))
	}

	var count int64
	if err := w.db.WithContext(ctx).Model(&model.MessageTranslation{}).
		Where("message_id = ? AND lang = ?", job.MessageID, job.ToLang).
		Count(&count).Error; err != nil {
		return w.retryOrAbandon(ctx, job, fmt.Errorf("failed to check translation: %w", err))
	}
	if count > 0 {
		return w.queue.Complete(queueCtx, job)
	}

	source := job.OriginalContent
	if source == "" {
		source = msg.Text()
	}

	callCtx, cancel := context.WithTimeout(ctx, w.opts.ProviderTimeout)
	translated, err := w.translator.Translate(callCtx, source, job.FromLang, job.ToLang)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// 关闭中被打断，不计入重试次数，原样放回
			if rerr := w.queue.Retry(queueCtx, job, 0); rerr != nil {
				return fmt.Errorf("failed to requeue %s: %w", job.JobKey(), rerr)
			}
			return nil
		}
		return w.retryOrAbandon(ctx, job, err)
	}

	translation := &model.MessageTranslation{
		MessageID: job.MessageID,
		Lang:      job.ToLang,
		Content:   translated,
		Provider:  w.translator.Name(),
	}
	result := w.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(translation)
	if result.Error != nil {
		return w.retryOrAbandon(ctx, job, fmt.Errorf("failed to save translation: %w", result.Error))
	}
	if err := w.queue.Complete(queueCtx, job); err != nil {
		log.Printf("[ERROR] Failed to mark %s complete: %v", job.JobKey(), err)
	}
	if result.RowsAffected == 0 {
		// 并发任务已写入
		return nil
	}

	event := Event{
		Type: EventMessageTranslated,
		Data: map[string]interface{}{
			"message_id":      job.MessageID,
			"conversation_id": job.ChatID,
			"lang":            job.ToLang,
			"content":         translated,
			"provider":        translation.Provider,
		},
	}
	if err := w.publisher.Publish(ctx, ChatTopic(job.ChatID), event); err != nil {
		log.Printf("[ERROR] Failed to publish translation %s: %v", job.JobKey(), err)
	}
	return nil
}

func (w *TranslationWorker) retryOrAbandon(ctx context.Context, job *TranslationJob, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if job.Attempt+1 < w.opts.MaxAttempts {
		delay := w.opts.BackoffBase << job.Attempt
		next := *job
		next.Attempt++
		if err := w.queue.Retry(ctx, &next, delay); err != nil {
			return fmt.Errorf("%v; retry scheduling failed: %w", cause, err)
		}
		log.Printf("[WARN] Translation job %s attempt %d failed, retrying in %s: %v",
			job.JobKey(), job.Attempt+1, delay, cause)
		return nil
	}

	if err := w.queue.Abandon(ctx, job); err != nil {
		log.Printf("[ERROR] Failed to mark %s abandoned: %v", job.JobKey(), err)
	}
	return fmt.Errorf("giving up after %d attempts: %w", job.Attempt+1, cause)
}
