package repository

import (
	"context"
	"errors"

	"browniepoints/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create 追加一条流水，流水只增不改不删
func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, record *model.TransferRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (r *TransferRepository) GetByTransferNo(ctx context.Context, transferNo string) (*model.TransferRecord, error) {
	var record model.TransferRecord
	err := r.db.WithContext(ctx).Where("transfer_no = ?", transferNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetByRequestID 幂等查询：同一 request_id 的重复提交返回首次的流水
func (r *TransferRepository) GetByRequestID(ctx context.Context, requestID string) (*model.TransferRecord, error) {
	var record model.TransferRecord
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *TransferRepository) ListByConnectionID(ctx context.Context, connectionID string, page, pageSize int) ([]*model.TransferRecord, int64, error) {
	var records []*model.TransferRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TransferRecord{}).Where("connection_id = ?", connectionID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

func (r *TransferRepository) ListByReceiverID(ctx context.Context, receiverID int64, page, pageSize int) ([]*model.TransferRecord, int64, error) {
	var records []*model.TransferRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TransferRecord{}).Where("receiver_id = ?", receiverID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
