package pairid

import (
	"fmt"

	"github.com/google/uuid"
)

// ============================================================================
// 连接ID生成
// ============================================================================
//
// 连接ID要求：
//   1. 确定性 —— 同一对用户多次计算结果相同
//   2. 与顺序无关 —— (A,B) 和 (B,A) 得到同一个ID
//   3. 无碰撞 —— 不同的用户对不会生成相同的ID
//
// 实现：对排序后的用户ID对做 UUIDv5（SHA1 命名空间哈希）
// ============================================================================

// 本项目固定的连接命名空间，不可变更，否则历史连接ID全部失效
var connectionNamespace = uuid.MustParse("b1e90095-7a2d-5b64-8f03-c0ffee000001")

// ConnectionID 由无序用户对计算确定性连接ID
func ConnectionID(userIDA, userIDB int64) string {
	lo, hi := Normalize(userIDA, userIDB)
	name := fmt.Sprintf("%d:%d", lo, hi)
	return uuid.NewSHA1(connectionNamespace, []byte(name)).String()
}

// Normalize 返回排序后的用户ID对（小者在前）
func Normalize(userIDA, userIDB int64) (int64, int64) {
	if userIDA > userIDB {
		return userIDB, userIDA
	}
	return userIDA, userIDB
}
