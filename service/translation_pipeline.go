package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"lingua_chat/apperr"
	"lingua_chat/model"
	"lingua_chat/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultMaxTranslationLanguages 单条消息最多翻译的目标语言数，配置只能调低
const DefaultMaxTranslationLanguages = 10

// TranslationPipeline 新消息 -> 每个目标语言一个翻译任务
type TranslationPipeline struct {
	db           *gorm.DB
	langSvc      *LanguagePreferenceService
	queue        JobQueue
	dispatcher   *utils.AsyncDispatcher
	sysSvc       *SystemSettingsService
	maxLanguages int
}

func NewTranslationPipeline(db *gorm.DB, langSvc *LanguagePreferenceService, queue JobQueue, dispatcher *utils.AsyncDispatcher, sysSvc *SystemSettingsService, maxLanguages int) *TranslationPipeline {
	if maxLanguages <= 0 || maxLanguages > DefaultMaxTranslationLanguages {
		maxLanguages = DefaultMaxTranslationLanguages
	}
	return &TranslationPipeline{
		db:           db,
		langSvc:      langSvc,
		queue:        queue,
		dispatcher:   dispatcher,
		sysSvc:       sysSvc,
		maxLanguages: maxLanguages,
	}
}

// OnMessageSent 立即返回，分发在后台执行；失败只记日志，不影响发送
func (p *TranslationPipeline) OnMessageSent(msg *model.Message) {
	if msg == nil || !msg.Translatable() {
		return
	}
	snapshot := *msg
	p.dispatcher.Submit("translation_fanout:"+snapshot.ID.String(), func(ctx context.Context) error {
		langs, err := p.FanOut(ctx, &snapshot)
		if err != nil {
			return err
		}
		if len(langs) > 0 {
			log.Printf("[INFO] Message %s queued for translation: %v", snapshot.ID, langs)
		}
		return nil
	})
}

// FanOut 计算目标语言并入队，返回实际入队的语言
//  1. 当前成员的阅读语言去重（按加入顺序，没人设置时为默认语言）
//  2. 截断到上限
//  3. 去掉发送者的写作语言
//  4. 去掉已有译文的语言
func (p *TranslationPipeline) FanOut(ctx context.Context, msg *model.Message) ([]string, error) {
	if !msg.Translatable() || !p.sysSvc.TranslationEnabled() {
		return nil, nil
	}

	langs, err := p.langSvc.ViewLanguages(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(langs) == 0 {
		langs = []string{model.DefaultLanguage}
	}

	limit := p.sysSvc.MaxTranslationLanguages(p.maxLanguages)
	if limit <= 0 || limit > p.maxLanguages {
		limit = p.maxLanguages
	}
	if len(langs) > limit {
		langs = langs[:limit]
	}

	senderLang, err := p.langSvc.MyLanguage(ctx, msg.SenderID, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(langs))
	for _, lang := range langs {
		if lang != senderLang {
			targets = append(targets, lang)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	var existing []string
	err = p.db.WithContext(ctx).Model(&model.MessageTranslation{}).
		Where("message_id = ? AND lang IN ?", msg.ID, targets).
		Pluck("lang", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query translations: %w", err)
	}
	done := make(map[string]bool, len(existing))
	for _, lang := range existing {
		done[lang] = true
	}

	enqueued := make([]string, 0, len(targets))
	for _, lang := range targets {
		if done[lang] {
			continue
		}
		ok, err := p.queue.Enqueue(ctx, &TranslationJob{
			MessageID:       msg.ID,
			ChatID:          msg.ConversationID,
			FromLang:        senderLang,
			ToLang:          lang,
			OriginalContent: msg.Text(),
		})
		if err != nil {
			log.Printf("[ERROR] Failed to enqueue translation %s -> %s: %v", msg.ID, lang, err)
			continue
		}
		if ok {
			enqueued = append(enqueued, lang)
		}
	}
	return enqueued, nil
}

// RetryTranslation 手动重试某条消息某个语言的翻译（只有会话成员可以操作）
func (p *TranslationPipeline) RetryTranslation(ctx context.Context, userID, messageID uuid.UUID, lang string) (bool, error) {
	target, err := NormalizeLanguage(lang)
	if err != nil {
		return false, err
	}

	db := p.db.WithContext(ctx)
	var msg model.Message
	if err := db.Where("id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apperr.NotFound("message not found")
		}
		return false, fmt.Errorf("failed to get message: %w", err)
	}
	if err := requireMember(db, msg.ConversationID, userID); err != nil {
		return false, err
	}
	if !msg.Translatable() {
		return false, apperr.Validation("message cannot be translated")
	}

	senderLang, err := p.langSvc.MyLanguage(ctx, msg.SenderID, msg.ConversationID)
	if err != nil {
		return false, err
	}
	if senderLang == target {
		return false, apperr.Validation("message is already in this language")
	}

	var count int64
	if err := db.Model(&model.MessageTranslation{}).
		Where("message_id = ? AND lang = ?", msg.ID, target).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query translations: %w", err)
	}
	if count > 0 {
		return false, apperr.Conflict("translation already exists")
	}

	released, err := p.queue.Release(ctx, msg.ID, target)
	if err != nil {
		return false, err
	}
	if !released {
		return false, apperr.Conflict("translation already in progress")
	}
	return p.queue.Enqueue(ctx, &TranslationJob{
		MessageID:       msg.ID,
		ChatID:          msg.ConversationID,
		FromLang:        senderLang,
		ToLang:          target,
		OriginalContent: msg.Text(),
	})
}
