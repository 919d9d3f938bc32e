package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 语言代码：ISO 639 主标签 + 可选子标签（en, pt-br, zh-hans）
var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]{2,8})*$`)

// NormalizeLanguage 规范化并校验语言代码
func NormalizeLanguage(code string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if normalized == "" {
		return "", apperr.Validation("language code is required")
	}
	if !languageCodePattern.MatchString(normalized) {
		return "", apperr.Validation(fmt.Sprintf("invalid language code %q", code))
	}
	return normalized, nil
}

// LanguagePreferenceService 每个会话成员的写作语言 / 阅读语言
type LanguagePreferenceService struct {
	db *gorm.DB
}

func NewLanguagePreferenceService(db *gorm.DB) *LanguagePreferenceService {
	return &LanguagePreferenceService{db: db}
}

// SetLanguagePreference 设置语言偏好（只有会话成员可以设置）
func (s *LanguagePreferenceService) SetLanguagePreference(ctx context.Context, userID, chatID uuid.UUID, myLanguage, viewLanguage string) (*model.LanguagePreference, error) {
	my, err := NormalizeLanguage(myLanguage)
	if err != nil {
		return nil, err
	}
	view, err := NormalizeLanguage(viewLanguage)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := requireMember(db, chatID, userID); err != nil {
		return nil, err
	}

	pref := &model.ChatLanguagePreference{
		ConversationID: chatID,
		UserID:         userID,
		MyLanguage:     my,
		ViewLanguage:   view,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"my_language", "view_language", "updated_at"}),
	}).Create(pref).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save language preference: %w", err)
	}

	return &model.LanguagePreference{
		ConversationID: chatID,
		UserID:         userID,
		MyLanguage:     my,
		ViewLanguage:   view,
	}, nil
}

// GetLanguagePreference 没有设置过时返回默认语言
func (s *LanguagePreferenceService) GetLanguagePreference(ctx context.Context, userID, chatID uuid.UUID) (*model.LanguagePreference, error) {
	var pref model.ChatLanguagePreference
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", chatID, userID).
		First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.LanguagePreference{
			ConversationID: chatID,
			UserID:         userID,
			MyLanguage:     model.DefaultLanguage,
			ViewLanguage:   model.DefaultLanguage,
			IsDefault:      true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query language preference: %w", err)
	}

	return &model.LanguagePreference{
		ConversationID: chatID,
		UserID:         userID,
		MyLanguage:     pref.MyLanguage,
		ViewLanguage:   pref.ViewLanguage,
	}, nil
}

// MyLanguage 用户在会话里写消息用的语言
func (s *LanguagePreferenceService) MyLanguage(ctx context.Context, userID, chatID uuid.UUID) (string, error) {
	pref, err := s.GetLanguagePreference(ctx, userID, chatID)
	if err != nil {
		return "", err
	}
	return pref.MyLanguage, nil
}

// ViewLanguages 当前成员的阅读语言去重，按成员加入顺序（joined_at, user_id）
func (s *LanguagePreferenceService) ViewLanguages(ctx context.Context, chatID uuid.UUID) ([]string, error) {
	var rows []struct {
		UserID       uuid.UUID
		ViewLanguage *string
	}
	err := s.db.WithContext(ctx).
		Table("conversation_members AS m").
		Select("m.user_id, p.view_language").
		Joins("LEFT JOIN chat_language_preferences p ON p.conversation_id = m.conversation_id AND p.user_id = m.user_id").
		Where("m.conversation_id = ? AND m.left_at IS NULL", chatID).
		Order("m.joined_at ASC, m.user_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query view languages: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	langs := make([]string, 0, len(rows))
	for _, row := range rows {
		lang := model.DefaultLanguage
		if row.ViewLanguage != nil && *row.ViewLanguage != "" {
			lang = *row.ViewLanguage
		}
		if !seen[lang] {
			seen[lang] = true
			langs = append(langs, lang)
		}
	}
	return langs, nil
}

// preferencesFor 批量读取若干用户的语言偏好，缺省的不在结果里
func (s *LanguagePreferenceService) preferencesFor(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]model.ChatLanguagePreference, error) {
	result := make(map[uuid.UUID]model.ChatLanguagePreference, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var prefs []model.ChatLanguagePreference
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id IN ?", chatID, userIDs).
		Find(&prefs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query language preferences: %w", err)
	}
	for _, p := range prefs {
		result[p.UserID] = p
	}
	return result, nil
}
