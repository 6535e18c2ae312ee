package model

import (
	"time"
)

// Connection 配对关系表
// 两个账户组成一个连接，连接ID由双方用户ID确定性生成（与发起方无关），
// 同一对用户无论谁发起，得到的连接ID永远相同
//
// 约束：一个账户同一时刻最多归属一个激活的连接
type Connection struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"connection_id"` // 确定性连接ID
	UserID1      int64     `gorm:"index;not null" json:"user_id_1"`                            // 较小的用户ID
	UserID2      int64     `gorm:"index;not null" json:"user_id_2"`                            // 较大的用户ID
	Active       bool      `gorm:"index;not null;default:true" json:"active"`                  // 是否激活
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Connection) TableName() string {
	return "connection"
}

// HasMember 判断用户是否是该连接的成员
func (c *Connection) HasMember(userID int64) bool {
	return c.UserID1 == userID || c.UserID2 == userID
}
