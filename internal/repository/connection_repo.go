package repository

import (
	"context"
	"errors"

	"browniepoints/internal/model"

	"gorm.io/gorm"
)

var ErrConnectionNotFound = errors.New("连接不存在")

type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func (r *ConnectionRepository) Create(ctx context.Context, tx *gorm.DB, conn *model.Connection) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(conn).Error
}

func (r *ConnectionRepository) GetByConnectionID(ctx context.Context, connectionID string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// GetByConnectionIDTx 在事务内查询连接，避免读逃逸出原子单元
func (r *ConnectionRepository) GetByConnectionIDTx(ctx context.Context, tx *gorm.DB, connectionID string) (*model.Connection, error) {
	if tx == nil {
		tx = r.db
	}
	var conn model.Connection
	err := tx.WithContext(ctx).Where("connection_id = ?", connectionID).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// GetActiveByUserID 查询用户当前归属的激活连接，没有则返回 nil
func (r *ConnectionRepository) GetActiveByUserID(ctx context.Context, userID int64) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.WithContext(ctx).
		Where("active = ? AND (user_id1 = ? OR user_id2 = ?)", true, userID, userID).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// SetActive 翻转连接的激活状态
func (r *ConnectionRepository) SetActive(ctx context.Context, tx *gorm.DB, connectionID string, active bool) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Connection{}).
		Where("connection_id = ?", connectionID).
		Update("active", active)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
