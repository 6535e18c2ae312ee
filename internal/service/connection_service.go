package service

import (
	"context"
	"errors"
	"fmt"

	"browniepoints/internal/model"
	"browniepoints/internal/repository"
	"browniepoints/pkg/pairid"

	"gorm.io/gorm"
)

type ConnectionService struct {
	db          *gorm.DB
	connRepo    *repository.ConnectionRepository
	accountRepo *repository.AccountRepository
}

func NewConnectionService(db *gorm.DB) *ConnectionService {
	return &ConnectionService{
		db:          db,
		connRepo:    repository.NewConnectionRepository(db),
		accountRepo: repository.NewAccountRepository(db),
	}
}

// Create 建立两个账户之间的连接
//
// 连接ID由无序用户对确定性生成，同一对用户重连复用同一个ID
// （只是把历史行重新激活）。连接行和双方账户的伙伴指针在同一个
// 数据库事务里写入，对调用方而言要么全部成功要么全部失败
func (s *ConnectionService) Create(ctx context.Context, userIDA, userIDB int64) (*model.Connection, error) {
	if userIDA == userIDB {
		return nil, ErrSameUser
	}

	// 双方账户必须存在
	if _, err := s.accountRepo.GetByUserID(ctx, userIDA); err != nil {
		return nil, err
	}
	if _, err := s.accountRepo.GetByUserID(ctx, userIDB); err != nil {
		return nil, err
	}

	// 排他性：任一方已有激活连接则拒绝
	for _, userID := range []int64{userIDA, userIDB} {
		existing, err := s.connRepo.GetActiveByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("查询激活连接失败: %w", err)
		}
		if existing != nil {
			return nil, ErrAlreadyConnected
		}
	}

	lo, hi := pairid.Normalize(userIDA, userIDB)
	connectionID := pairid.ConnectionID(userIDA, userIDB)

	var conn *model.Connection
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.connRepo.GetByConnectionIDTx(ctx, tx, connectionID)
		if err != nil && !errors.Is(err, repository.ErrConnectionNotFound) {
			return err
		}

		if existing != nil {
			// 同一对用户重连：激活历史行，连接ID保持稳定
			if err := s.connRepo.SetActive(ctx, tx, connectionID, true); err != nil {
				return err
			}
			existing.Active = true
			conn = existing
		} else {
			conn = &model.Connection{
				ConnectionID: connectionID,
				UserID1:      lo,
				UserID2:      hi,
				Active:       true,
			}
			if err := s.connRepo.Create(ctx, tx, conn); err != nil {
				return fmt.Errorf("创建连接失败: %w", err)
			}
		}

		if err := s.accountRepo.SetPartner(ctx, tx, userIDA, &userIDB); err != nil {
			return err
		}
		if err := s.accountRepo.SetPartner(ctx, tx, userIDB, &userIDA); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Pair 用配对口令建立连接：口令解析出对端账户后走 Create
func (s *ConnectionService) Pair(ctx context.Context, userID int64, token string) (*model.Connection, error) {
	peer, err := s.accountRepo.GetByPairingToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, userID, peer.UserID)
}

// Disconnect 解除连接：连接置为失效并清空双方伙伴指针
func (s *ConnectionService) Disconnect(ctx context.Context, connectionID string) error {
	conn, err := s.connRepo.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.Active {
		return ErrConnectionInactive
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.connRepo.SetActive(ctx, tx, connectionID, false); err != nil {
			return err
		}
		if err := s.accountRepo.SetPartner(ctx, tx, conn.UserID1, nil); err != nil {
			return err
		}
		return s.accountRepo.SetPartner(ctx, tx, conn.UserID2, nil)
	})
}

func (s *ConnectionService) Get(ctx context.Context, connectionID string) (*model.Connection, error) {
	return s.connRepo.GetByConnectionID(ctx, connectionID)
}

// IsMember 纯查询：用户是否是该连接的成员（连接本身需存在）
func (s *ConnectionService) IsMember(ctx context.Context, connectionID string, userID int64) (bool, error) {
	conn, err := s.connRepo.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return false, err
	}
	return conn.HasMember(userID), nil
}
