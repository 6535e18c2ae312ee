package repository

import (
	"context"
	"errors"

	"browniepoints/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("账户不存在")
	ErrVersionConflict = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account).Error
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	return r.getByUserID(ctx, r.db, userID)
}

// GetByUserIDTx 在指定事务内读取账户
// 余额的"读-改-写"必须整体落在同一个事务里，读取不能走事务外的连接
func (r *AccountRepository) GetByUserIDTx(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	return r.getByUserID(ctx, tx, userID)
}

func (r *AccountRepository) getByUserID(ctx context.Context, db *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByPairingToken(ctx context.Context, token string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("pairing_token = ?", token).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Apply 按乐观锁版本对余额施加有符号增量
//
// 【重要】没有 balance >= 0 的保护条件 —— 余额允许为负。
// RowsAffected == 0 时区分"账户不存在"和"版本冲突"，冲突由调用方
// 在有限次数内整体重试
func (r *AccountRepository) Apply(ctx context.Context, tx *gorm.DB, userID int64, delta int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		_, err := r.getByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}

	return nil
}

// SetPartner 更新配对伙伴指针，partnerID 为 nil 表示解除配对
func (r *AccountRepository) SetPartner(ctx context.Context, tx *gorm.DB, userID int64, partnerID *int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Update("partner_id", partnerID)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 驱动默认按"实际变更"计数，把 partner_id 更新成
		// 原值时也会报 0 行。回读区分"行不存在"和"值未变化"，
		// 重放的配对请求不应因此失败
		_, err := r.getByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
	}
	return nil
}
