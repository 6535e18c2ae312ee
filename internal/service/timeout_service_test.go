package service

import (
	"context"
	"testing"
	"time"

	"browniepoints/internal/model"
	"browniepoints/internal/repository"
	"browniepoints/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// insertTimeoutRecord 直接落库一条冷静期记录，模拟历史状态/进程重启前的遗留
func insertTimeoutRecord(t *testing.T, env *testEnv, userID int64, connectionID string, startTime time.Time, duration time.Duration, dateKey string) *model.TimeoutRecord {
	t.Helper()
	repo := repository.NewTimeoutRepository(env.db)
	count, err := repo.CountByUserAndDateKey(context.Background(), nil, userID, dateKey)
	require.NoError(t, err)
	record := &model.TimeoutRecord{
		TimeoutNo:        idgen.GenerateTimeoutNo(),
		RequestingUserID: userID,
		ConnectionID:     connectionID,
		StartTime:        startTime,
		DurationMs:       duration.Milliseconds(),
		Active:           true,
		DateKey:          dateKey,
		DaySeq:           int(count) + 1,
	}
	require.NoError(t, repo.Create(context.Background(), nil, record))
	return record
}

func TestRequestTimeoutStartsCountdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	record, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)
	assert.True(t, record.Active)
	assert.Equal(t, env.cfg.Business.TimeoutDuration().Milliseconds(), record.DurationMs)
	assert.Equal(t, DateKey(time.Now()), record.DateKey)

	// 本地计时器已登记
	assert.True(t, env.timeouts.Monitoring(conn.ConnectionID))

	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Greater(t, status.RemainingMs, int64(0))

	assert.Equal(t, int64(1), env.outboxCount(t, env.cfg.Kafka.Topic.TimeoutRequested))
}

func TestDailyQuotaEnforced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	_, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)

	// 同一用户同日第二次：配额=1，拒绝
	_, err = env.timeouts.Request(ctx, 1, conn.ConnectionID)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// 另一个成员不受影响
	_, err = env.timeouts.Request(ctx, 2, conn.ConnectionID)
	require.NoError(t, err)
}

func TestQuotaResetsOnNextDateKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	// 昨天的记录不占今天的配额
	insertTimeoutRecord(t, env, 1, conn.ConnectionID,
		time.Now().Add(-24*time.Hour), env.cfg.Business.TimeoutDuration(), "2000-01-01")

	_, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)
}

func TestExpireIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	record, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)

	require.NoError(t, env.timeouts.Expire(ctx, record.TimeoutNo))
	// 第二次是空操作，同样返回成功
	require.NoError(t, env.timeouts.Expire(ctx, record.TimeoutNo))

	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.False(t, status.Active)

	// 到期事件只随第一次翻转入队一次
	assert.Equal(t, int64(1), env.outboxCount(t, env.cfg.Kafka.Topic.TimeoutExpired))

	// 计时器已随到期移除
	assert.False(t, env.timeouts.Monitoring(conn.ConnectionID))
}

func TestStatusDerivedFromStorageAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	// 模拟进程重启：30分钟的冷静期已经开始了40分钟，
	// 没有任何本地计时器存活，记录还标着 active
	insertTimeoutRecord(t, env, 1, conn.ConnectionID,
		time.Now().Add(-40*time.Minute), 30*time.Minute, DateKey(time.Now()))

	// 状态查询立即报告已结束，而不是再等30分钟
	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, int64(0), status.RemainingMs)

	// 对账扫描把落库状态翻转过来并补发到期事件
	require.NoError(t, env.timeouts.Reconcile(ctx, 100))

	var record model.TimeoutRecord
	require.NoError(t, env.db.Where("connection_id = ?", conn.ConnectionID).First(&record).Error)
	assert.False(t, record.Active)
	assert.Equal(t, int64(1), env.outboxCount(t, env.cfg.Kafka.Topic.TimeoutExpired))
}

func TestReconcileRearmsLostTimer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	// 30分钟的冷静期走了10分钟，重启后本地没有计时器
	insertTimeoutRecord(t, env, 1, conn.ConnectionID,
		time.Now().Add(-10*time.Minute), 30*time.Minute, DateKey(time.Now()))

	assert.False(t, env.timeouts.Monitoring(conn.ConnectionID))

	require.NoError(t, env.timeouts.Reconcile(ctx, 100))

	// 按重算的剩余时长补建了计时器，存储状态未动
	assert.True(t, env.timeouts.Monitoring(conn.ConnectionID))
	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.True(t, status.Active)
	// 剩余时长约20分钟，必然小于完整时长
	assert.Less(t, status.RemainingMs, int64(30*60*1000))
}

func TestLocalTimerFiresExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	record := insertTimeoutRecord(t, env, 1, conn.ConnectionID,
		time.Now(), 50*time.Millisecond, DateKey(time.Now()))
	env.timeouts.EnsureTimer(record)

	require.Eventually(t, func() bool {
		status, err := env.timeouts.Status(ctx, conn.ConnectionID)
		if err != nil {
			return false
		}
		var stored model.TimeoutRecord
		if err := env.db.Where("timeout_no = ?", record.TimeoutNo).First(&stored).Error; err != nil {
			return false
		}
		return !status.Active && !stored.Active
	}, 3*time.Second, 20*time.Millisecond, "计时器未触发到期")

	assert.Equal(t, int64(1), env.outboxCount(t, env.cfg.Kafka.Topic.TimeoutExpired))
}

func TestNewRequestReplacesTimer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	_, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)
	require.True(t, env.timeouts.Monitoring(conn.ConnectionID))

	// 另一成员发起新冷静期：顶替而不是叠加，同一连接始终只有一个计时器
	newRecord, err := env.timeouts.Request(ctx, 2, conn.ConnectionID)
	require.NoError(t, err)
	assert.True(t, env.timeouts.Monitoring(conn.ConnectionID))

	// 存储里也只剩一条生效记录，旧的已被静默置为失效
	var activeCount int64
	require.NoError(t, env.db.Model(&model.TimeoutRecord{}).
		Where("connection_id = ? AND active = ?", conn.ConnectionID, true).
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount)

	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.Equal(t, newRecord.TimeoutNo, status.TimeoutNo)
}

func TestSupersededTimeoutExpiryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	old, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)
	current, err := env.timeouts.Request(ctx, 2, conn.ConnectionID)
	require.NoError(t, err)

	// 被顶替的记录已失效，迟到的到期触发是空操作：
	// 不发事件，也不影响新冷静期的倒计时
	require.NoError(t, env.timeouts.Expire(ctx, old.TimeoutNo))
	assert.Equal(t, int64(0), env.outboxCount(t, env.cfg.Kafka.Topic.TimeoutExpired))

	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, current.TimeoutNo, status.TimeoutNo)
}

func TestExpirePushReflectsNewerTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	// 直接落库构造两条同连接的生效记录（模拟顶替落库前的竞争窗口）：
	// 旧的早已超时，新的刚开始倒计时
	stale := insertTimeoutRecord(t, env, 1, conn.ConnectionID,
		time.Now().Add(-40*time.Minute), 30*time.Minute, DateKey(time.Now()))
	fresh := insertTimeoutRecord(t, env, 2, conn.ConnectionID,
		time.Now(), 30*time.Minute, DateKey(time.Now()))

	sub, err := env.timeouts.ObserveStatus(ctx, conn.ConnectionID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// 初始快照：新记录在倒计时
	select {
	case status := <-sub.C():
		assert.True(t, status.Active)
		assert.Equal(t, fresh.TimeoutNo, status.TimeoutNo)
	case <-time.After(time.Second):
		t.Fatal("未收到初始快照")
	}

	// 旧记录到期翻转后，推送按存储重新推算：
	// 连接上仍有新冷静期在倒计时，不能推 Active=false
	require.NoError(t, env.timeouts.Expire(ctx, stale.TimeoutNo))

	select {
	case status := <-sub.C():
		assert.True(t, status.Active)
		assert.Equal(t, fresh.TimeoutNo, status.TimeoutNo)
	case <-time.After(time.Second):
		t.Fatal("未收到到期后的状态推送")
	}
}

func TestQuotaSlotUniquePerUserAndDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	repo := repository.NewTimeoutRepository(env.db)
	dateKey := DateKey(time.Now())

	first := &model.TimeoutRecord{
		TimeoutNo:        idgen.GenerateTimeoutNo(),
		RequestingUserID: 1,
		ConnectionID:     conn.ConnectionID,
		StartTime:        time.Now(),
		DurationMs:       1000,
		Active:           true,
		DateKey:          dateKey,
		DaySeq:           1,
	}
	require.NoError(t, repo.Create(ctx, nil, first))

	// 并发请求读到同一个计数时会抢同一个槽位序号，
	// (用户, 日期, 序号) 唯一索引保证后写者失败
	dup := &model.TimeoutRecord{
		TimeoutNo:        idgen.GenerateTimeoutNo(),
		RequestingUserID: 1,
		ConnectionID:     conn.ConnectionID,
		StartTime:        time.Now(),
		DurationMs:       1000,
		Active:           true,
		DateKey:          dateKey,
		DaySeq:           1,
	}
	err := repo.Create(ctx, nil, dup)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestQuotaSlotSequenceIncrements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)
	env.cfg.Business.MaxTimeoutsPerDay = 2

	first, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.DaySeq)

	second, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.DaySeq)

	_, err = env.timeouts.Request(ctx, 1, conn.ConnectionID)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestStopMonitoringLeavesStorageUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	record, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)

	env.timeouts.StopMonitoring(conn.ConnectionID)
	assert.False(t, env.timeouts.Monitoring(conn.ConnectionID))

	// 取消的只是本地倒计时，权威状态仍在存储里
	var stored model.TimeoutRecord
	require.NoError(t, env.db.Where("timeout_no = ?", record.TimeoutNo).First(&stored).Error)
	assert.True(t, stored.Active)

	status, err := env.timeouts.Status(ctx, conn.ConnectionID)
	require.NoError(t, err)
	assert.True(t, status.Active)
}

func TestObserveTimeoutStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.pairUsers(t, 1, 2)

	sub, err := env.timeouts.ObserveStatus(ctx, conn.ConnectionID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// 初始快照：无冷静期
	select {
	case status := <-sub.C():
		assert.False(t, status.Active)
	case <-time.After(time.Second):
		t.Fatal("未收到初始快照")
	}

	record, err := env.timeouts.Request(ctx, 1, conn.ConnectionID)
	require.NoError(t, err)

	select {
	case status := <-sub.C():
		assert.True(t, status.Active)
		assert.Equal(t, record.TimeoutNo, status.TimeoutNo)
	case <-time.After(time.Second):
		t.Fatal("未收到冷静期开始推送")
	}

	require.NoError(t, env.timeouts.Expire(ctx, record.TimeoutNo))

	select {
	case status := <-sub.C():
		assert.False(t, status.Active)
	case <-time.After(time.Second):
		t.Fatal("未收到冷静期结束推送")
	}
}
