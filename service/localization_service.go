package service

import (
	"context"
	"fmt"

	"lingua_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LocalizationService 按读者的阅读语言组装消息
type LocalizationService struct {
	db      *gorm.DB
	langSvc *LanguagePreferenceService
}

func NewLocalizationService(db *gorm.DB, langSvc *LanguagePreferenceService) *LocalizationService {
	return &LocalizationService{db: db, langSvc: langSvc}
}

// GetLocalizedMessages 会话消息分页（新的在前），只有成员可以读
func (s *LocalizationService) GetLocalizedMessages(ctx context.Context, readerID, chatID uuid.UUID, limit, offset int) ([]model.LocalizedMessage, error) {
	db := s.db.WithContext(ctx)
	if err := requireMember(db, chatID, readerID); err != nil {
		return nil, err
	}

	var messages []model.Message
	err := db.Where("conversation_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return s.Localize(ctx, readerID, chatID, messages)
}

// Localize 每条消息：
//   - 阅读语言 = 原文语言：返回原文，不带 content_original
//   - 有阅读语言的译文：返回译文 + content_original
//   - 否则回落到原文，lang_shown = 原文语言
//
// 偏好和译文都是整页批量查询
func (s *LocalizationService) Localize(ctx context.Context, readerID, chatID uuid.UUID, messages []model.Message) ([]model.LocalizedMessage, error) {
	result := make([]model.LocalizedMessage, 0, len(messages))
	if len(messages) == 0 {
		return result, nil
	}

	readerPref, err := s.langSvc.GetLanguagePreference(ctx, readerID, chatID)
	if err != nil {
		return nil, err
	}
	view := readerPref.ViewLanguage

	senderIDs := make([]uuid.UUID, 0, len(messages))
	seenSender := make(map[uuid.UUID]bool)
	messageIDs := make([]uuid.UUID, 0, len(messages))
	for i := range messages {
		if !seenSender[messages[i].SenderID] {
			seenSender[messages[i].SenderID] = true
			senderIDs = append(senderIDs, messages[i].SenderID)
		}
		if messages[i].Translatable() {
			messageIDs = append(messageIDs, messages[i].ID)
		}
	}

	senderPrefs, err := s.langSvc.preferencesFor(ctx, chatID, senderIDs)
	if err != nil {
		return nil, err
	}

	translations := make(map[uuid.UUID]string)
	if len(messageIDs) > 0 {
		var rows []model.MessageTranslation
		err := s.db.WithContext(ctx).
			Where("message_id IN ? AND lang = ?", messageIDs, view).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to query translations: %w", err)
		}
		for _, row := range rows {
			translations[row.MessageID] = row.Content
		}
	}

	for i := range messages {
		msg := &messages[i]
		original := model.DefaultLanguage
		if pref, ok := senderPrefs[msg.SenderID]; ok {
			original = pref.MyLanguage
		}

		localized := model.LocalizedMessage{
			ID:               msg.ID,
			ConversationID:   msg.ConversationID,
			SenderID:         msg.SenderID,
			MessageType:      msg.MessageType,
			Content:          msg.Text(),
			LangOriginal:     original,
			LangShown:        original,
			Status:           msg.Status,
			ReplyToMessageID: msg.ReplyToMessageID,
			IsRecalled:       msg.IsRecalled,
			CreatedAt:        msg.CreatedAt,
		}

		if msg.IsRecalled {
			localized.Content = ""
		} else if view != original {
			if translated, ok := translations[msg.ID]; ok {
				originalText := msg.Text()
				localized.Content = translated
				localized.ContentOriginal = &originalText
				localized.LangShown = view
			}
		}

		result = append(result, localized)
	}
	return result, nil
}
