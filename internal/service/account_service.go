package service

import (
	"context"

	"browniepoints/internal/model"
	"browniepoints/internal/repository"
	"browniepoints/pkg/idgen"

	"gorm.io/gorm"
)

type AccountService struct {
	accountRepo *repository.AccountRepository
	db          *gorm.DB
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		db:          db,
	}
}

// GetOrCreate 获取账户，不存在则创建（余额0，生成配对口令）
func (s *AccountService) GetOrCreate(ctx context.Context, userID int64, displayName string) (*model.Account, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}
	if err != repository.ErrAccountNotFound {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:       userID,
		DisplayName:  displayName,
		Balance:      0,
		PairingToken: idgen.GeneratePairingToken(),
	}
	if err := s.accountRepo.Create(ctx, newAccount); err != nil {
		return nil, err
	}

	// OnConflict DoNothing 之后回读，并发创建也能拿到唯一的那条
	return s.accountRepo.GetByUserID(ctx, userID)
}

func (s *AccountService) Get(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetByUserID(ctx, userID)
}

func (s *AccountService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}
