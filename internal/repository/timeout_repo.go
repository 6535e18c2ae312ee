package repository

import (
	"context"
	"errors"

	"browniepoints/internal/model"

	"gorm.io/gorm"
)

var ErrTimeoutNotFound = errors.New("冷静期记录不存在")

type TimeoutRepository struct {
	db *gorm.DB
}

func NewTimeoutRepository(db *gorm.DB) *TimeoutRepository {
	return &TimeoutRepository{db: db}
}

func (r *TimeoutRepository) Create(ctx context.Context, tx *gorm.DB, record *model.TimeoutRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (r *TimeoutRepository) GetByTimeoutNo(ctx context.Context, timeoutNo string) (*model.TimeoutRecord, error) {
	var record model.TimeoutRecord
	err := r.db.WithContext(ctx).Where("timeout_no = ?", timeoutNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTimeoutNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetActiveByConnectionID 查询连接当前生效中的冷静期记录，没有则返回 nil
// 同一连接新的冷静期会顶替旧的，取最新一条即可
func (r *TimeoutRepository) GetActiveByConnectionID(ctx context.Context, connectionID string) (*model.TimeoutRecord, error) {
	var record model.TimeoutRecord
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND active = ?", connectionID, true).
		Order("start_time DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CountByUserAndDateKey 统计用户在某个日历日（UTC）的冷静期次数
// 按创建记录数统计，与记录当前是否已到期无关
func (r *TimeoutRepository) CountByUserAndDateKey(ctx context.Context, tx *gorm.DB, userID int64, dateKey string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.TimeoutRecord{}).
		Where("requesting_user_id = ? AND date_key = ?", userID, dateKey).
		Count(&count).Error
	return count, err
}

// Deactivate 条件翻转 active: true -> false
// 返回是否真正发生了翻转。记录已失效时返回 (false, nil) —— 幂等到期
// 的核心：计时器和对账扫描并发调用时，只有一个调用者会看到翻转成功
func (r *TimeoutRepository) Deactivate(ctx context.Context, tx *gorm.DB, timeoutNo string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.TimeoutRecord{}).
		Where("timeout_no = ? AND active = ?", timeoutNo, true).
		Update("active", false)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeactivateByConnectionID 将连接下仍生效的记录全部置为失效
// 新冷静期顶替旧的时使用：旧记录静默取消，不产生到期事件
func (r *TimeoutRepository) DeactivateByConnectionID(ctx context.Context, tx *gorm.DB, connectionID string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.TimeoutRecord{}).
		Where("connection_id = ? AND active = ?", connectionID, true).
		Update("active", false)
	return result.RowsAffected, result.Error
}

// ListActive 批量拉取生效中的记录，供对账扫描使用
func (r *TimeoutRepository) ListActive(ctx context.Context, limit int) ([]*model.TimeoutRecord, error) {
	var records []*model.TimeoutRecord
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("start_time ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
