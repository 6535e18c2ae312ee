package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"browniepoints/internal/config"
	"browniepoints/internal/infrastructure/lock"
	"browniepoints/internal/model"
	"browniepoints/internal/repository"
	"browniepoints/internal/watch"
	"browniepoints/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// TransferService 积分转账引擎
//
// 【关键点】转账是整个系统最核心的操作，需要保证：
//  1. 幂等性：相同的 request_id 只会记账一次
//  2. 原子性：余额变更和流水追加必须同时成功或同时失败
//  3. 并发安全：数据库乐观锁 + 有限次整体重试，同一接收方的并发
//     转账不会基于过期的余额读数各自生效
type TransferService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	accountRepo  *repository.AccountRepository
	connRepo     *repository.ConnectionRepository
	transferRepo *repository.TransferRepository
	timeoutRepo  *repository.TimeoutRepository
	outboxRepo   *repository.OutboxRepository
	balanceHub   *watch.Hub[int64, int64]
}

// NewTransferService 创建转账引擎
// redisClient 可为 nil（单实例部署），此时退化为仅依赖数据库乐观锁
func NewTransferService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *TransferService {
	return &TransferService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		accountRepo:  repository.NewAccountRepository(db),
		connRepo:     repository.NewConnectionRepository(db),
		transferRepo: repository.NewTransferRepository(db),
		timeoutRepo:  repository.NewTimeoutRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		balanceHub:   watch.NewHub[int64, int64](),
	}
}

// TransferRequest 转账请求
type TransferRequest struct {
	RequestID    string `json:"request_id"` // 幂等ID，为空时自动生成（该次调用不幂等）
	SenderID     int64  `json:"sender_id"`
	ReceiverID   int64  `json:"receiver_id"`
	ConnectionID string `json:"connection_id"`
	Points       int64  `json:"points"` // 有符号：正数赠送，负数扣除
	Kind         string `json:"kind"`   // GIVE / DEDUCT
	Message      string `json:"message"`
}

// Transfer 执行一笔转账
//
// 前置校验按固定顺序执行，每一条失败返回独立的错误：
//  1. 发送方 != 接收方
//  2. abs(points) 在 [MinPoints, MaxPoints] 内，符号与类型一致
//  3. 附言长度不超限
//  4. 连接存在、激活、双方都是成员
//  5. 连接不在冷静期内（以存储的开始时间+时长推算，不依赖本地计时器）
//
// 核心记账在单个数据库事务内完成：读余额 -> 算新余额（无零下限）->
// 版本校验更新余额 + 追加流水 + 写入事件 outbox。版本冲突时整体重试，
// 预算耗尽返回 ErrBalanceConflict。通知投递由 outbox 异步完成，投递
// 失败不回滚也不影响本次转账结果
func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (*model.TransferRecord, error) {
	// 幂等校验
	if req.RequestID == "" {
		req.RequestID = idgen.GenerateTransferNo()
	} else {
		existing, err := s.transferRepo.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("查询流水失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if err := s.validate(req); err != nil {
		return nil, err
	}

	// 成员关系校验
	conn, err := s.connRepo.GetByConnectionID(ctx, req.ConnectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Active {
		return nil, ErrConnectionInactive
	}
	if !conn.HasMember(req.SenderID) || !conn.HasMember(req.ReceiverID) {
		return nil, ErrNotMember
	}

	// 冷静期校验：状态纯粹由存储的开始时间+时长推算
	timeout, err := s.timeoutRepo.GetActiveByConnectionID(ctx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("查询冷静期失败: %w", err)
	}
	if timeout != nil && timeout.Remaining(time.Now()) > 0 {
		return nil, ErrConnectionInTimeout
	}

	// 获取分布式锁（按接收方），压低同一接收方并发提交的写冲突
	if s.redisClient != nil {
		transferLock := lock.NewTransferLock(s.redisClient, req.ReceiverID, req.RequestID)
		if err := transferLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer transferLock.Unlock(ctx)

		// 获取锁后再次检查幂等
		existing, err := s.transferRepo.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("查询流水失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	record, err := s.applyTransfer(ctx, req)
	if err != nil {
		return nil, err
	}

	s.balanceHub.Publish(req.ReceiverID, record.BalanceAfter)

	log.Printf("转账成功: transferNo=%s, sender=%d, receiver=%d, points=%d",
		record.TransferNo, req.SenderID, req.ReceiverID, req.Points)

	return record, nil
}

// validate 前置参数校验，顺序固定
func (s *TransferService) validate(req *TransferRequest) error {
	if req.SenderID == req.ReceiverID {
		return ErrSameUser
	}

	abs := req.Points
	if abs < 0 {
		abs = -abs
	}
	if abs < s.cfg.Business.MinPoints || abs > s.cfg.Business.MaxPoints {
		return ErrPointsOutOfRange
	}
	switch req.Kind {
	case model.TransferKindGive:
		if req.Points <= 0 {
			return ErrPointsSign
		}
	case model.TransferKindDeduct:
		if req.Points >= 0 {
			return ErrPointsSign
		}
	default:
		return ErrInvalidKind
	}

	if len([]rune(req.Message)) > s.cfg.Business.MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// applyTransfer 原子记账单元：读余额、版本校验更新、追加流水、写 outbox
// 全部落在同一个事务里，版本冲突时整体重试
func (s *TransferService) applyTransfer(ctx context.Context, req *TransferRequest) (*model.TransferRecord, error) {
	maxRetries := s.cfg.Business.MaxBalanceRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		var record *model.TransferRecord

		err := s.db.Transaction(func(tx *gorm.DB) error {
			account, err := s.accountRepo.GetByUserIDTx(ctx, tx, req.ReceiverID)
			if err != nil {
				return err
			}

			// 无零下限：扣分允许把余额打成负数，表示"欠分"
			newBalance := account.Balance + req.Points

			if err := s.accountRepo.Apply(ctx, tx, req.ReceiverID, req.Points, account.Version); err != nil {
				return err
			}

			record = &model.TransferRecord{
				TransferNo:    idgen.GenerateTransferNo(),
				RequestID:     req.RequestID,
				SenderID:      req.SenderID,
				ReceiverID:    req.ReceiverID,
				ConnectionID:  req.ConnectionID,
				Points:        req.Points,
				Kind:          req.Kind,
				Message:       req.Message,
				BalanceBefore: account.Balance,
				BalanceAfter:  newBalance,
			}
			if err := s.transferRepo.Create(ctx, tx, record); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			msgPayload := map[string]interface{}{
				"event":         model.EventTransferCreated,
				"transfer_no":   record.TransferNo,
				"connection_id": req.ConnectionID,
				"sender_id":     req.SenderID,
				"receiver_id":   req.ReceiverID,
				"points":        req.Points,
				"kind":          req.Kind,
				"message":       req.Message,
				"balance_after": newBalance,
				"created_at":    time.Now().Format(time.RFC3339),
			}
			payloadBytes, _ := json.Marshal(msgPayload)

			outboxMsg := &model.OutboxMessage{
				MessageKey: record.TransferNo,
				Topic:      s.cfg.Kafka.Topic.TransferCreated,
				Payload:    string(payloadBytes),
				Status:     model.OutboxStatusPending,
			}
			if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}

			return nil
		})

		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return record, nil
	}

	return nil, ErrBalanceConflict
}

// ObserveBalance 订阅用户余额：立即收到当前余额快照，之后每次
// 余额变更都会收到推送。调用方负责 Unsubscribe 释放监听
func (s *TransferService) ObserveBalance(ctx context.Context, userID int64) (*watch.Subscription[int64, int64], error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.balanceHub.Subscribe(userID, account.Balance), nil
}

// ListByConnection 查询连接内的流水（新到旧）
func (s *TransferService) ListByConnection(ctx context.Context, connectionID string, page, pageSize int) ([]*model.TransferRecord, int64, error) {
	return s.transferRepo.ListByConnectionID(ctx, connectionID, page, pageSize)
}
