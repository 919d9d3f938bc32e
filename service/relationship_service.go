package service

import (
	"context"
	"errors"
	"fmt"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationshipService 拉黑关系 + 好友关系
type RelationshipService struct {
	db *gorm.DB
}

func NewRelationshipService(db *gorm.DB) *RelationshipService {
	return &RelationshipService{db: db}
}

// BlockUser 拉黑用户，已有好友关系同时置为 BLOCKED
func (s *RelationshipService) BlockUser(ctx context.Context, userID, targetUserID uuid.UUID) error {
	pair, err := model.NewUserPair(userID, targetUserID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := applyBlock(tx, pair, userID)
		if err != nil {
			return err
		}
		if !created {
			return apperr.Conflict("user already blocked")
		}
		return nil
	})
}

// applyBlock 写入拉黑边（已存在不报错，返回是否新建），已有好友关系置为 BLOCKED
func applyBlock(tx *gorm.DB, pair model.UserPair, blockerID uuid.UUID) (bool, error) {
	relationship := &model.UserRelationship{
		UserID:           blockerID,
		TargetUserID:     pair.Other(blockerID),
		RelationshipType: model.RelationshipBlocked,
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(relationship)
	if result.Error != nil {
		return false, fmt.Errorf("failed to block user: %w", result.Error)
	}

	err := tx.Model(&model.Friendship{}).
		Where("user_low_id = ? AND user_high_id = ?", pair.Low, pair.High).
		Update("status", model.StatusBlocked).Error
	if err != nil {
		return false, fmt.Errorf("failed to update friendship: %w", err)
	}
	return result.RowsAffected > 0, nil
}

// UnblockUser 取消拉黑
// 双方都不再拉黑对方时，清掉该用户对上 BLOCKED 的好友关系和私信请求，双方可以重新开始
func (s *RelationshipService) UnblockUser(ctx context.Context, userID, targetUserID uuid.UUID) error {
	pair, err := model.NewUserPair(userID, targetUserID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND target_user_id = ? AND relationship_type = ?",
			userID, targetUserID, model.RelationshipBlocked).
			Delete(&model.UserRelationship{})
		if result.Error != nil {
			return fmt.Errorf("failed to unblock user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("user not blocked")
		}

		var reverse int64
		err := tx.Model(&model.UserRelationship{}).
			Where("user_id = ? AND target_user_id = ? AND relationship_type = ?",
				targetUserID, userID, model.RelationshipBlocked).
			Count(&reverse).Error
		if err != nil {
			return fmt.Errorf("failed to check relationship: %w", err)
		}
		if reverse > 0 {
			return nil
		}

		if err := tx.Where("user_low_id = ? AND user_high_id = ? AND status = ?", pair.Low, pair.High, model.StatusBlocked).
			Delete(&model.Friendship{}).Error; err != nil {
			return fmt.Errorf("failed to reset friendship: %w", err)
		}
		if err := tx.Where("user_low_id = ? AND user_high_id = ? AND status = ?", pair.Low, pair.High, model.StatusBlocked).
			Delete(&model.DmRequest{}).Error; err != nil {
			return fmt.Errorf("failed to reset dm request: %w", err)
		}
		return nil
	})
}

// GetBlockedUsers 获取拉黑列表
func (s *RelationshipService) GetBlockedUsers(ctx context.Context, userID uuid.UUID) ([]model.UserRelationship, error) {
	var relationships []model.UserRelationship
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND relationship_type = ?", userID, model.RelationshipBlocked).
		Order("created_at DESC").
		Find(&relationships).Error

	if err != nil {
		return nil, fmt.Errorf("failed to query blocked users: %w", err)
	}

	return relationships, nil
}

// IsBlocked 检查 userID 是否拉黑了 targetUserID
func (s *RelationshipService) IsBlocked(ctx context.Context, userID, targetUserID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UserRelationship{}).
		Where("user_id = ? AND target_user_id = ? AND relationship_type = ?", userID, targetUserID, model.RelationshipBlocked).
		Count(&count).Error

	if err != nil {
		return false, fmt.Errorf("failed to check relationship: %w", err)
	}

	return count > 0, nil
}

// blockedEitherWay 任一方向存在拉黑
func blockedEitherWay(tx *gorm.DB, a, b uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&model.UserRelationship{}).
		Where("relationship_type = ? AND ((user_id = ? AND target_user_id = ?) OR (user_id = ? AND target_user_id = ?))",
			model.RelationshipBlocked, a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check relationship: %w", err)
	}
	return count > 0, nil
}

// lockFriendship 加行锁读取用户对的好友关系，不存在返回 nil
func lockFriendship(tx *gorm.DB, pair model.UserPair) (*model.Friendship, error) {
	var f model.Friendship
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_low_id = ? AND user_high_id = ?", pair.Low, pair.High).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query friendship: %w", err)
	}
	return &f, nil
}

// SendFriendRequest 发送好友请求
// 对方已经向我发过请求时直接成为好友；被拒绝过可以重新发起
func (s *RelationshipService) SendFriendRequest(ctx context.Context, requesterID, targetUserID uuid.UUID) (*model.Friendship, error) {
	pair, err := model.NewUserPair(requesterID, targetUserID)
	if err != nil {
		return nil, err
	}

	var result *model.Friendship
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blocked, err := blockedEitherWay(tx, requesterID, targetUserID)
		if err != nil {
			return err
		}
		if blocked {
			return apperr.Forbidden("cannot send friend request to this user")
		}

		f, err := lockFriendship(tx, pair)
		if err != nil {
			return err
		}

		if f == nil {
			f = &model.Friendship{
				UserLowID:   pair.Low,
				UserHighID:  pair.High,
				Status:      model.StatusPending,
				RequestedBy: requesterID,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(f)
			if res.Error != nil {
				return fmt.Errorf("failed to create friend request: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				result = f
				return nil
			}
			// 并发创建失败，按已存在处理
			if f, err = lockFriendship(tx, pair); err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("friendship vanished after conflict")
			}
		}

		switch f.Status {
		case model.StatusAccepted:
			return apperr.Conflict("already friends")
		case model.StatusBlocked:
			return apperr.Forbidden("cannot send friend request to this user")
		case model.StatusPending:
			if f.RequestedBy == requesterID {
				return apperr.Conflict("friend request already sent")
			}
			f.Status = model.StatusAccepted
		case model.StatusDeclined:
			f.Status = model.StatusPending
			f.RequestedBy = requesterID
		}

		if err := tx.Save(f).Error; err != nil {
			return fmt.Errorf("failed to update friend request: %w", err)
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AcceptFriendRequest 接受好友请求（只有被请求方可以操作）
func (s *RelationshipService) AcceptFriendRequest(ctx context.Context, userID, requesterID uuid.UUID) (*model.Friendship, error) {
	return s.respondFriendRequest(ctx, userID, requesterID, model.StatusAccepted)
}

// DeclineFriendRequest 拒绝好友请求
func (s *RelationshipService) DeclineFriendRequest(ctx context.Context, userID, requesterID uuid.UUID) (*model.Friendship, error) {
	return s.respondFriendRequest(ctx, userID, requesterID, model.StatusDeclined)
}

func (s *RelationshipService) respondFriendRequest(ctx context.Context, userID, requesterID uuid.UUID, next model.RelationStatus) (*model.Friendship, error) {
	pair, err := model.NewUserPair(userID, requesterID)
	if err != nil {
		return nil, err
	}

	var result *model.Friendship
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := lockFriendship(tx, pair)
		if err != nil {
			return err
		}
		if f == nil || f.Status != model.StatusPending {
			return apperr.NotFound("friend request not found")
		}
		if f.RequestedBy == userID {
			return apperr.Forbidden("only the recipient can respond to this friend request")
		}

		f.Status = next
		if err := tx.Save(f).Error; err != nil {
			return fmt.Errorf("failed to update friend request: %w", err)
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveFriend 删除好友
func (s *RelationshipService) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	pair, err := model.NewUserPair(userID, friendID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ? AND status = ?", pair.Low, pair.High, model.StatusAccepted).
		Delete(&model.Friendship{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove friend: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("not friends")
	}
	return nil
}

// ListFriends 好友列表
func (s *RelationshipService) ListFriends(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Friendship, error) {
	var friendships []model.Friendship
	err := s.db.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND status = ?", userID, userID, model.StatusAccepted).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&friendships).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	return friendships, nil
}

// ListIncomingFriendRequests 别人发给我的待处理好友请求
func (s *RelationshipService) ListIncomingFriendRequests(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Friendship, error) {
	var friendships []model.Friendship
	err := s.db.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND status = ? AND requested_by <> ?",
			userID, userID, model.StatusPending, userID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&friendships).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query friend requests: %w", err)
	}
	return friendships, nil
}
