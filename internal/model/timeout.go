package model

import (
	"time"
)

// TimeoutRecord 冷静期记录表
// 记录一次冷静期请求：谁在哪个连接上、何时开始、持续多久
//
// 【重要】权威状态只有 StartTime + DurationMs 与当前时钟的比较——
// 本地计时器只是加速到期触发的手段，进程重启后状态可完全从本表重建。
// Active 只允许 true -> false 单向翻转一次，翻转必须幂等
type TimeoutRecord struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TimeoutNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"timeout_no"` // 冷静期单号（全局唯一）
	RequestingUserID int64     `gorm:"uniqueIndex:uk_timeout_user_date_seq;not null" json:"requesting_user_id"`
	ConnectionID     string    `gorm:"type:varchar(64);index;not null" json:"connection_id"`
	StartTime        time.Time `gorm:"not null" json:"start_time"`                                                     // 开始时间
	DurationMs       int64     `gorm:"not null" json:"duration_ms"`                                                    // 持续时长（毫秒）
	Active           bool      `gorm:"index;not null" json:"active"`                                                   // 是否生效中
	DateKey          string    `gorm:"type:varchar(10);uniqueIndex:uk_timeout_user_date_seq;not null" json:"date_key"` // UTC日历日，用于每日配额
	DaySeq           int       `gorm:"uniqueIndex:uk_timeout_user_date_seq;not null" json:"day_seq"`                   // 当日第几次，唯一索引兜底配额竞争
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TimeoutRecord) TableName() string {
	return "timeout_record"
}

// Deadline 冷静期的到期时刻
func (t *TimeoutRecord) Deadline() time.Time {
	return t.StartTime.Add(time.Duration(t.DurationMs) * time.Millisecond)
}

// Remaining 相对 now 的剩余时长，已到期返回0
// 只依赖存储字段和传入时钟，任意读者可并发调用
func (t *TimeoutRecord) Remaining(now time.Time) time.Duration {
	remaining := t.Deadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
