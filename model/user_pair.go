package model

import (
	"lingua_chat/apperr"

	"github.com/google/uuid"
)

// UserPair 两个用户的规范化有序对（Low < High，按 UUID 字符串比较）
// 同一对用户无论谁先操作都落到同一行关系记录上
type UserPair struct {
	Low  uuid.UUID
	High uuid.UUID
}

// NewUserPair 规范化用户对，自己和自己不能组成关系
func NewUserPair(a, b uuid.UUID) (UserPair, error) {
	if a == b {
		return UserPair{}, apperr.Validation("cannot create a relationship with yourself")
	}
	if a.String() > b.String() {
		a, b = b, a
	}
	return UserPair{Low: a, High: b}, nil
}

// Contains 用户是否属于该对
func (p UserPair) Contains(userID uuid.UUID) bool {
	return userID == p.Low || userID == p.High
}

// Other 返回另一方
func (p UserPair) Other(userID uuid.UUID) uuid.UUID {
	if userID == p.Low {
		return p.High
	}
	return p.Low
}

func (p UserPair) Key() string {
	return p.Low.String() + ":" + p.High.String()
}
