package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lingua_chat/apperr"
	"lingua_chat/model"
	"lingua_chat/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DmRequestService 私信请求状态机的持久化
// 所有迁移规则在 model.NextOn* 里，这里只负责加锁读写
type DmRequestService struct {
	db         *gorm.DB
	notifSvc   *NotificationService
	dispatcher *utils.AsyncDispatcher
	publisher  EventPublisher
}

// DmSendOutcome 一次发送对私信请求的影响
type DmSendOutcome struct {
	Request  *model.DmRequest
	Created  bool
	Previous model.RelationStatus
}

func NewDmRequestService(db *gorm.DB) *DmRequestService {
	return &DmRequestService{
		db:        db,
		publisher: nopPublisher{},
	}
}

// SetNotifier 新请求通知走异步队列，不阻塞发送
func (s *DmRequestService) SetNotifier(notifSvc *NotificationService, dispatcher *utils.AsyncDispatcher) {
	s.notifSvc = notifSvc
	s.dispatcher = dispatcher
}

// SetPublisher 设置实时推送（用于依赖注入）
func (s *DmRequestService) SetPublisher(publisher EventPublisher) {
	if publisher != nil {
		s.publisher = publisher
	}
}

// lockDmRequest 加行锁读取用户对的私信请求，不存在返回 nil
func lockDmRequest(tx *gorm.DB, pair model.UserPair) (*model.DmRequest, error) {
	var req model.DmRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_low_id = ? AND user_high_id = ?", pair.Low, pair.High).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dm request: %w", err)
	}
	return &req, nil
}

// CreateOrUpdateDmRequest sender 给 receiver 发消息时推进请求状态，返回请求及是否新建
func (s *DmRequestService) CreateOrUpdateDmRequest(ctx context.Context, senderID, receiverID uuid.UUID) (*model.DmRequest, bool, error) {
	var out *DmSendOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.ApplySend(tx, senderID, receiverID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.AfterSend(ctx, out)
	return out.Request, out.Created, nil
}

// ApplySend 在调用方事务内推进状态
// 创建是 insert-or-get：并发创建时输家回落到更新分支
func (s *DmRequestService) ApplySend(tx *gorm.DB, senderID, receiverID uuid.UUID) (*DmSendOutcome, error) {
	pair, err := model.NewUserPair(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	req, err := lockDmRequest(tx, pair)
	if err != nil {
		return nil, err
	}

	if req == nil {
		status, err := model.NextOnSend(nil, senderID)
		if err != nil {
			return nil, err
		}
		req = &model.DmRequest{
			UserLowID:     pair.Low,
			UserHighID:    pair.High,
			InitiatedBy:   senderID,
			Status:        status,
			LastMessageAt: now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(req)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to create dm request: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return &DmSendOutcome{Request: req, Created: true, Previous: model.DmStateNone}, nil
		}
		if req, err = lockDmRequest(tx, pair); err != nil {
			return nil, err
		}
		if req == nil {
			return nil, fmt.Errorf("dm request vanished after conflict")
		}
	}

	previous := req.Status
	next, err := model.NextOnSend(req, senderID)
	if err != nil {
		return nil, err
	}

	req.Status = next
	req.LastMessageAt = now
	if err := tx.Save(req).Error; err != nil {
		return nil, fmt.Errorf("failed to update dm request: %w", err)
	}
	return &DmSendOutcome{Request: req, Previous: previous}, nil
}

// AfterSend 事务提交后的副作用：新请求发通知，状态变化推送给双方
func (s *DmRequestService) AfterSend(ctx context.Context, out *DmSendOutcome) {
	if out == nil {
		return
	}
	req := *out.Request

	if out.Created {
		if s.dispatcher != nil && s.notifSvc != nil {
			s.dispatcher.Submit("dm_request_notify:"+req.ID.String(), func(ctx context.Context) error {
				if err := s.publisher.Publish(ctx, UserTopic(req.Recipient()), Event{Type: EventDmRequest, Data: req}); err != nil {
					log.Printf("[ERROR] Failed to push dm request %s: %v", req.ID, err)
				}
				return s.notifSvc.NotifyDmRequest(ctx, &req)
			})
		}
		return
	}

	if out.Previous != req.Status {
		s.publishUpdate(ctx, &req)
	}
}

// AutoAcceptDmRequestOnReply 接收方回复即自动接受，没有待处理请求时什么都不做
func (s *DmRequestService) AutoAcceptDmRequestOnReply(ctx context.Context, replierID, otherID uuid.UUID) (bool, error) {
	pair, err := model.NewUserPair(replierID, otherID)
	if err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).Model(&model.DmRequest{}).
		Where("user_low_id = ? AND user_high_id = ? AND status = ? AND initiated_by <> ?",
			pair.Low, pair.High, model.StatusPending, replierID).
		Updates(map[string]interface{}{
			"status":          model.StatusAccepted,
			"last_message_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to accept dm request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	if req, err := s.GetDmRequest(ctx, replierID, otherID); err == nil {
		s.publishUpdate(ctx, req)
	}
	return true, nil
}

// AcceptDmRequest 接收方显式接受
func (s *DmRequestService) AcceptDmRequest(ctx context.Context, actorID, otherID uuid.UUID) (*model.DmRequest, error) {
	return s.respond(ctx, actorID, otherID, model.NextOnAccept, false)
}

// DeclineDmRequest 接收方显式拒绝，发起方之后再发消息会重新进入 PENDING
func (s *DmRequestService) DeclineDmRequest(ctx context.Context, actorID, otherID uuid.UUID) (*model.DmRequest, error) {
	return s.respond(ctx, actorID, otherID, model.NextOnDecline, false)
}

// BlockViaDmRequest 接收方通过请求拉黑，同一事务里写入拉黑关系
func (s *DmRequestService) BlockViaDmRequest(ctx context.Context, actorID, otherID uuid.UUID) (*model.DmRequest, error) {
	return s.respond(ctx, actorID, otherID, model.NextOnBlock, true)
}

type dmTransition func(req *model.DmRequest, actorID uuid.UUID) (model.RelationStatus, error)

func (s *DmRequestService) respond(ctx context.Context, actorID, otherID uuid.UUID, next dmTransition, block bool) (*model.DmRequest, error) {
	pair, err := model.NewUserPair(actorID, otherID)
	if err != nil {
		return nil, err
	}

	var req *model.DmRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = lockDmRequest(tx, pair)
		if err != nil {
			return err
		}

		status, err := next(req, actorID)
		if err != nil {
			return err
		}

		if block {
			if _, err := applyBlock(tx, pair, actorID); err != nil {
				return err
			}
		}

		if req.Status == status {
			return nil
		}
		req.Status = status
		if err := tx.Save(req).Error; err != nil {
			return fmt.Errorf("failed to update dm request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdate(ctx, req)
	return req, nil
}

func (s *DmRequestService) publishUpdate(ctx context.Context, req *model.DmRequest) {
	event := Event{Type: EventDmRequestUpdated, Data: req}
	for _, userID := range []uuid.UUID{req.UserLowID, req.UserHighID} {
		if err := s.publisher.Publish(ctx, UserTopic(userID), event); err != nil {
			log.Printf("[ERROR] Failed to push dm request update %s to user %s: %v", req.ID, userID, err)
		}
	}
}

// GetDmRequest 查询两人之间的私信请求
func (s *DmRequestService) GetDmRequest(ctx context.Context, a, b uuid.UUID) (*model.DmRequest, error) {
	pair, err := model.NewUserPair(a, b)
	if err != nil {
		return nil, err
	}

	var req model.DmRequest
	err = s.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", pair.Low, pair.High).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("dm request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dm request: %w", err)
	}
	return &req, nil
}

// ListPendingDmRequests 别人发给我的待处理请求，最近有消息的在前
func (s *DmRequestService) ListPendingDmRequests(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.DmRequest, error) {
	var reqs []model.DmRequest
	err := s.db.WithContext(ctx).
		Where("(user_low_id = ? OR user_high_id = ?) AND status = ? AND initiated_by <> ?",
			userID, userID, model.StatusPending, userID).
		Order("last_message_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query dm requests: %w", err)
	}
	return reqs, nil
}

// ListSentDmRequests 我发出且对方还没处理的请求
func (s *DmRequestService) ListSentDmRequests(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.DmRequest, error) {
	var reqs []model.DmRequest
	err := s.db.WithContext(ctx).
		Where("initiated_by = ? AND status = ?", userID, model.StatusPending).
		Order("last_message_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query dm requests: %w", err)
	}
	return reqs, nil
}
