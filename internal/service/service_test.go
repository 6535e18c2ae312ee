package service

import (
	"context"
	"testing"

	"browniepoints/internal/config"
	"browniepoints/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 内存 SQLite，单连接保证所有事务串行落在同一个库上
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Connection{},
		&model.TransferRecord{},
		&model.TimeoutRecord{},
		&model.OutboxMessage{},
	))

	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business = config.DefaultBusiness()
	cfg.Kafka.Topic = config.KafkaTopicConfig{
		TransferCreated:  "brownie.transfer.created",
		TimeoutRequested: "brownie.timeout.requested",
		TimeoutExpired:   "brownie.timeout.expired",
	}
	return cfg
}

type testEnv struct {
	db          *gorm.DB
	cfg         *config.Config
	accounts    *AccountService
	connections *ConnectionService
	transfers   *TransferService
	timeouts    *TimeoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig()

	env := &testEnv{
		db:          db,
		cfg:         cfg,
		accounts:    NewAccountService(db),
		connections: NewConnectionService(db),
		transfers:   NewTransferService(db, nil, cfg),
		timeouts:    NewTimeoutService(db, cfg),
	}
	t.Cleanup(env.timeouts.Shutdown)
	return env
}

// pairUsers 创建两个账户并建立连接，返回连接
func (e *testEnv) pairUsers(t *testing.T, userA, userB int64) *model.Connection {
	t.Helper()
	ctx := context.Background()

	_, err := e.accounts.GetOrCreate(ctx, userA, "甲")
	require.NoError(t, err)
	_, err = e.accounts.GetOrCreate(ctx, userB, "乙")
	require.NoError(t, err)

	conn, err := e.connections.Create(ctx, userA, userB)
	require.NoError(t, err)
	return conn
}

func (e *testEnv) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	balance, err := e.accounts.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func (e *testEnv) outboxCount(t *testing.T, topic string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&count).Error)
	return count
}
