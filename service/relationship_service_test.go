package service

import (
	"context"
	"testing"

	"lingua_chat/apperr"
	"lingua_chat/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockAndUnblock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewRelationshipService(db)
	a, b := uuid.New(), uuid.New()

	require.NoError(t, svc.BlockUser(ctx, a, b))
	err := svc.BlockUser(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	blocked, err := svc.IsBlocked(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = svc.IsBlocked(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, blocked, "blocks are directed")

	list, err := svc.GetBlockedUsers(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b, list[0].TargetUserID)

	require.NoError(t, svc.UnblockUser(ctx, a, b))
	err = svc.UnblockUser(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestUnblockResetsBlockedPairState(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rel := NewRelationshipService(db)
	dm := NewDmRequestService(db)
	a, b := uuid.New(), uuid.New()

	befriend(t, db, a, b)
	_, _, err := dm.CreateOrUpdateDmRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = dm.BlockViaDmRequest(ctx, b, a)
	require.NoError(t, err)

	var friendship model.Friendship
	require.NoError(t, db.First(&friendship).Error)
	assert.Equal(t, model.StatusBlocked, friendship.Status)

	require.NoError(t, rel.UnblockUser(ctx, b, a))

	var friendships, requests int64
	require.NoError(t, db.Model(&model.Friendship{}).Count(&friendships).Error)
	require.NoError(t, db.Model(&model.DmRequest{}).Count(&requests).Error)
	assert.Zero(t, friendships)
	assert.Zero(t, requests)

	// 双方可以重新开始
	req, created, err := dm.CreateOrUpdateDmRequest(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusPending, req.Status)
}

func TestUnblockKeepsStateWhileOtherSideStillBlocks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rel := NewRelationshipService(db)
	a, b := uuid.New(), uuid.New()

	befriend(t, db, a, b)
	require.NoError(t, rel.BlockUser(ctx, a, b))
	require.NoError(t, rel.BlockUser(ctx, b, a))
	require.NoError(t, rel.UnblockUser(ctx, a, b))

	var friendship model.Friendship
	require.NoError(t, db.First(&friendship).Error)
	assert.Equal(t, model.StatusBlocked, friendship.Status)
}

func TestFriendRequests(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewRelationshipService(db)
	a, b := uuid.New(), uuid.New()

	f, err := svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, f.Status)
	assert.Equal(t, a, f.RequestedBy)

	_, err = svc.SendFriendRequest(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	incoming, err := svc.ListIncomingFriendRequests(ctx, b, 20, 0)
	require.NoError(t, err)
	assert.Len(t, incoming, 1)
	incoming, err = svc.ListIncomingFriendRequests(ctx, a, 20, 0)
	require.NoError(t, err)
	assert.Empty(t, incoming)

	_, err = svc.AcceptFriendRequest(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden), "requester cannot accept")

	f, err = svc.DeclineFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, f.Status)

	// 被拒绝后对方发起，发起人随之改变
	f, err = svc.SendFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, f.Status)
	assert.Equal(t, b, f.RequestedBy)

	f, err = svc.AcceptFriendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, f.Status)

	friends, err := svc.ListFriends(ctx, a, 20, 0)
	require.NoError(t, err)
	assert.Len(t, friends, 1)

	perm, err := NewPermissionService(db).CanSendMessage(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, perm.RequiresRequest)

	require.NoError(t, svc.RemoveFriend(ctx, b, a))
	err = svc.RemoveFriend(ctx, b, a)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestMutualFriendRequestAccepts(t *testing.T) {
	ctx := context.Background()
	svc := NewRelationshipService(newTestDB(t))
	a, b := uuid.New(), uuid.New()

	_, err := svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	f, err := svc.SendFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, f.Status)
}

func TestFriendRequestToBlockedUserIsForbidden(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewRelationshipService(db)
	a, b := uuid.New(), uuid.New()
	block(t, db, b, a)

	_, err := svc.SendFriendRequest(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestFriendRequest_LosingInsertFallsBackToExistingRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewRelationshipService(db)
	a, b := uuid.New(), uuid.New()
	pair, err := model.NewUserPair(a, b)
	require.NoError(t, err)

	// b 的好友请求抢先写入
	raceOnCreate(t, db, &model.Friendship{
		UserLowID:   pair.Low,
		UserHighID:  pair.High,
		Status:      model.StatusPending,
		RequestedBy: b,
	})

	f, err := svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, f.Status)

	var count int64
	require.NoError(t, db.Model(&model.Friendship{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
