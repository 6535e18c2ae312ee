package model

import (
	"time"
)

// ============================================================================
// 转账类型常量
// ============================================================================

const (
	TransferKindGive   = "GIVE"   // 赠送积分（正数）
	TransferKindDeduct = "DEDUCT" // 扣除积分（负数）
)

// ============================================================================
// 积分流水实体
// ============================================================================

// TransferRecord 积分流水表
// 记录连接内的每一笔积分变动，是对账的核心依据
//
// 【重要】流水表设计原则：
//  1. 只追加，不修改，不删除 —— 保证审计可追溯
//  2. 记录变动前后余额 —— 便于校验余额一致性
//  3. 流水创建与余额变更在同一个数据库事务内 —— 读者永远不会
//     看到"有流水无余额变化"或"有余额变化无流水"的中间状态
type TransferRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"` // 流水号（全局唯一）
	RequestID     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`  // 幂等ID
	SenderID      int64     `gorm:"index;not null" json:"sender_id"`                          // 发起方用户ID
	ReceiverID    int64     `gorm:"index;not null" json:"receiver_id"`                        // 接收方用户ID
	ConnectionID  string    `gorm:"type:varchar(64);index;not null" json:"connection_id"`     // 所属连接
	Points        int64     `gorm:"not null" json:"points"`                                   // 积分数（正数赠送，负数扣除）
	Kind          string    `gorm:"type:varchar(20);not null" json:"kind"`                    // GIVE / DEDUCT
	Message       string    `gorm:"type:varchar(255)" json:"message"`                         // 附言（可为空）
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`                           // 变动前余额
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`                            // 变动后余额
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TransferRecord) TableName() string {
	return "transfer_record"
}
