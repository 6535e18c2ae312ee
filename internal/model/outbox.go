package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 通知事件的 Kafka 消息键，也作为 outbox 的事件类型标识
const (
	EventTransferCreated  = "TRANSFER_CREATED"
	EventTimeoutRequested = "TIMEOUT_REQUESTED"
	EventTimeoutExpired   = "TIMEOUT_EXPIRED"
)

// OutboxMessage 事务性消息表
// 事件与业务变更写在同一个数据库事务里，由后台任务异步投递到 Kafka。
// 投递失败只影响通知的及时性，永远不会回滚已提交的账本变更
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
