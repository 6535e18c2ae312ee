package model

import (
	"time"
)

// Account 用户账户表
// 记录用户的布朗尼积分余额和配对信息，是整个积分系统的核心数据
//
// 【重要】余额是有符号整数，允许为负 —— 扣分超过余额属于正常业务
// （表示"欠分"状态），不做零下限保护
type Account struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64     `gorm:"uniqueIndex;not null" json:"user_id"`                        // 用户ID，业务方传入
	DisplayName  string    `gorm:"type:varchar(64);not null" json:"display_name"`              // 展示名称
	Balance      int64     `gorm:"not null;default:0" json:"balance"`                          // 积分余额（可为负）
	PartnerID    *int64    `gorm:"index" json:"partner_id"`                                    // 配对伙伴的用户ID，未配对时为空
	PairingToken string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"pairing_token"` // 配对口令
	Version      int       `gorm:"not null;default:0" json:"version"`                          // 乐观锁版本号
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
