package service

import (
	"errors"
)

// 预期内的业务失败全部是普通返回值，调用方按类别显式处理，
// 不用 panic 表达业务分支
var (
	// 参数校验类
	ErrSameUser         = errors.New("发送方和接收方不能是同一用户")
	ErrPointsOutOfRange = errors.New("单笔积分超出允许范围")
	ErrPointsSign       = errors.New("积分符号与转账类型不匹配")
	ErrMessageTooLong   = errors.New("附言长度超出上限")
	ErrInvalidKind      = errors.New("未知的转账类型")

	// 成员关系类
	ErrNotMember          = errors.New("用户不是该连接的成员")
	ErrConnectionInactive = errors.New("连接已失效")
	ErrAlreadyConnected   = errors.New("账户已存在激活的连接")

	// 冷静期类
	ErrQuotaExceeded       = errors.New("今日冷静期次数已用完")
	ErrConnectionInTimeout = errors.New("连接处于冷静期，暂不能转账")

	// 并发冲突类
	ErrBalanceConflict = errors.New("余额并发冲突，重试次数已用尽")
)
