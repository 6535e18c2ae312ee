package service

import (
	"context"
	"testing"

	"browniepoints/internal/model"
	"browniepoints/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConnectionDeterministicID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	// 成员按小ID在前存储
	assert.Equal(t, int64(1), conn.UserID1)
	assert.Equal(t, int64(2), conn.UserID2)
	assert.True(t, conn.Active)

	// 解除后由另一方发起重连：连接ID不变
	require.NoError(t, env.connections.Disconnect(ctx, conn.ConnectionID))

	reconn, err := env.connections.Create(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, conn.ConnectionID, reconn.ConnectionID)
	assert.True(t, reconn.Active)
}

func TestCreateConnectionExclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.pairUsers(t, 1, 2)

	_, err := env.accounts.GetOrCreate(ctx, 3, "丙")
	require.NoError(t, err)

	// 用户1已有激活连接，不能再和用户3配对
	_, err = env.connections.Create(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	// 自己和自己不能配对
	_, err = env.connections.Create(ctx, 3, 3)
	assert.ErrorIs(t, err, ErrSameUser)
}

func TestPairWithToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.accounts.GetOrCreate(ctx, 1, "甲")
	require.NoError(t, err)
	_, err = env.accounts.GetOrCreate(ctx, 2, "乙")
	require.NoError(t, err)

	conn, err := env.connections.Pair(ctx, 2, a.PairingToken)
	require.NoError(t, err)
	assert.True(t, conn.HasMember(1))
	assert.True(t, conn.HasMember(2))

	// 配对成功后双方伙伴指针互指
	a, err = env.accounts.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, a.PartnerID)
	assert.Equal(t, int64(2), *a.PartnerID)

	b, err := env.accounts.Get(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, b.PartnerID)
	assert.Equal(t, int64(1), *b.PartnerID)
}

func TestDisconnectClearsPartners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	require.NoError(t, env.connections.Disconnect(ctx, conn.ConnectionID))

	a, err := env.accounts.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, a.PartnerID)

	b, err := env.accounts.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, b.PartnerID)

	// 失效连接上不能再转账
	_, err = env.transfers.Transfer(ctx, &TransferRequest{
		RequestID:    "req-after-disconnect",
		SenderID:     1,
		ReceiverID:   2,
		ConnectionID: conn.ConnectionID,
		Points:       5,
		Kind:         model.TransferKindGive,
	})
	assert.ErrorIs(t, err, ErrConnectionInactive)
}

func TestSetPartnerReplaySucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.pairUsers(t, 1, 2)

	repo := repository.NewAccountRepository(env.db)
	partner := int64(2)

	// 把 partner_id 更新成它已有的值：MySQL 驱动按实际变更计数会报
	// 0 行，不能据此误判账户不存在，重放的配对请求必须成功
	require.NoError(t, repo.SetPartner(ctx, nil, 1, &partner))

	a, err := env.accounts.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, a.PartnerID)
	assert.Equal(t, int64(2), *a.PartnerID)

	// 行确实不存在时仍然报账户不存在
	err = repo.SetPartner(ctx, nil, 99, &partner)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

func TestIsMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	ok, err := env.connections.IsMember(ctx, conn.ConnectionID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.connections.IsMember(ctx, conn.ConnectionID, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.connections.IsMember(ctx, "no-such-connection", 1)
	assert.Error(t, err)
}
