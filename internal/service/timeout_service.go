package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"browniepoints/internal/config"
	"browniepoints/internal/model"
	"browniepoints/internal/repository"
	"browniepoints/internal/watch"
	"browniepoints/pkg/idgen"

	"gorm.io/gorm"
)

// TimeoutStatus 冷静期状态快照
// 只由存储的开始时间+时长对当前时钟推算得出，与本地计时器是否
// 存活无关，任意数量的读者可并发查询
type TimeoutStatus struct {
	Active      bool   `json:"active"`
	TimeoutNo   string `json:"timeout_no,omitempty"`
	RemainingMs int64  `json:"remaining_ms"`
}

// TimeoutService 冷静期协调器
//
// 每个连接的状态机：无冷静期 -> 倒计时中 -> 无冷静期（终态复位）。
// 没有"暂停"态；同一连接任一时刻最多一个逻辑计时器，新的冷静期
// 会先取消再顶替旧计时器。
//
// 【重要】计时器只是加速到期的手段，权威状态永远是存储里的
// StartTime + DurationMs 与挂钟时间的比较。进程重启丢掉全部计时器
// 也没关系，对账扫描(Reconcile)会把它们重建出来
type TimeoutService struct {
	db          *gorm.DB
	cfg         *config.Config
	timeoutRepo *repository.TimeoutRepository
	connRepo    *repository.ConnectionRepository
	outboxRepo  *repository.OutboxRepository
	statusHub   *watch.Hub[string, *TimeoutStatus]
	registry    *timerRegistry
}

func NewTimeoutService(db *gorm.DB, cfg *config.Config) *TimeoutService {
	return &TimeoutService{
		db:          db,
		cfg:         cfg,
		timeoutRepo: repository.NewTimeoutRepository(db),
		connRepo:    repository.NewConnectionRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		statusHub:   watch.NewHub[string, *TimeoutStatus](),
		registry:    newTimerRegistry(),
	}
}

// quotaClaimRetries 配额槽位冲突时的重试上限
const quotaClaimRetries = 3

// Request 发起一次冷静期
//
//  1. 用 UTC 日历日做配额键
//  2. 同一事务内统计当日次数、抢占槽位序号并创建记录。普通隔离级别
//     下两个并发请求可能读到同一个计数，(用户, 日期, 序号) 唯一索引
//     兜底：后提交者撞唯一键后重新计数，配额已满则被拒绝
//  3. 同一事务内把该连接此前仍生效的记录静默置为失效 —— 新冷静期
//     顶替旧的，旧记录取消不算到期，不产生到期事件
//  4. 提交后启动（或顶替）本地倒计时
func (s *TimeoutService) Request(ctx context.Context, userID int64, connectionID string) (*model.TimeoutRecord, error) {
	conn, err := s.connRepo.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Active {
		return nil, ErrConnectionInactive
	}
	if !conn.HasMember(userID) {
		return nil, ErrNotMember
	}

	now := time.Now()
	dateKey := DateKey(now)
	durationMs := s.cfg.Business.TimeoutDuration().Milliseconds()

	var record *model.TimeoutRecord
	for attempt := 0; ; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			count, err := s.timeoutRepo.CountByUserAndDateKey(ctx, tx, userID, dateKey)
			if err != nil {
				return fmt.Errorf("统计冷静期配额失败: %w", err)
			}
			if count >= s.cfg.Business.MaxTimeoutsPerDay {
				return ErrQuotaExceeded
			}

			if _, err := s.timeoutRepo.DeactivateByConnectionID(ctx, tx, connectionID); err != nil {
				return fmt.Errorf("顶替旧冷静期失败: %w", err)
			}

			record = &model.TimeoutRecord{
				TimeoutNo:        idgen.GenerateTimeoutNo(),
				RequestingUserID: userID,
				ConnectionID:     connectionID,
				StartTime:        now,
				DurationMs:       durationMs,
				Active:           true,
				DateKey:          dateKey,
				DaySeq:           int(count) + 1,
			}
			if err := s.timeoutRepo.Create(ctx, tx, record); err != nil {
				return fmt.Errorf("创建冷静期记录失败: %w", err)
			}

			return s.enqueueEvent(ctx, tx, s.cfg.Kafka.Topic.TimeoutRequested, model.EventTimeoutRequested, record)
		})
		if err == nil {
			break
		}
		// 并发请求抢到了同一个槽位序号：重新计数再试，配额已满
		// 会在下一轮被拒绝
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < quotaClaimRetries {
			log.Printf("冷静期配额槽位冲突，重试: userID=%d, dateKey=%s, attempt=%d", userID, dateKey, attempt+1)
			continue
		}
		return nil, err
	}

	// 顶替该连接的旧计时器，保证同一连接至多一个存活计时器
	s.armTimer(record)

	s.statusHub.Publish(connectionID, &TimeoutStatus{
		Active:      true,
		TimeoutNo:   record.TimeoutNo,
		RemainingMs: durationMs,
	})

	log.Printf("冷静期开始: timeoutNo=%s, userID=%d, connectionID=%s, durationMs=%d",
		record.TimeoutNo, userID, connectionID, durationMs)

	return record, nil
}

// Expire 将冷静期记录置为失效
//
// 幂等：记录已失效时直接返回成功，不报错。这使得本地计时器触发与
// 对账扫描并发争抢同一条记录是安全的 —— 条件更新保证 active 只会
// 翻转一次，到期事件也只会随翻转那一次进入 outbox
func (s *TimeoutService) Expire(ctx context.Context, timeoutNo string) error {
	record, err := s.timeoutRepo.GetByTimeoutNo(ctx, timeoutNo)
	if err != nil {
		return err
	}

	flipped := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := s.timeoutRepo.Deactivate(ctx, tx, timeoutNo)
		if err != nil {
			return err
		}
		if !ok {
			// 已被计时器或扫描翻转过，无事可做
			return nil
		}
		flipped = true
		return s.enqueueEvent(ctx, tx, s.cfg.Kafka.Topic.TimeoutExpired, model.EventTimeoutExpired, record)
	})
	if err != nil {
		return err
	}

	if flipped {
		s.registry.cancelIf(record.ConnectionID, timeoutNo)
		// 推送前按存储重新推算连接状态：被顶替的旧记录晚到期时，
		// 同一连接上可能已有更新的冷静期在倒计时
		status, statusErr := s.Status(ctx, record.ConnectionID)
		if statusErr != nil {
			log.Printf("到期后查询状态失败: connectionID=%s, err=%v", record.ConnectionID, statusErr)
			status = &TimeoutStatus{Active: false}
		}
		s.statusHub.Publish(record.ConnectionID, status)
		log.Printf("冷静期结束: timeoutNo=%s, connectionID=%s", timeoutNo, record.ConnectionID)
	}

	return nil
}

// Status 查询连接当前冷静期状态
// 纯粹由存储记录推算：即使记录还标着 active，只要按时间已到期，
// 这里立刻报告"未生效"，不等扫描或计时器翻转
func (s *TimeoutService) Status(ctx context.Context, connectionID string) (*TimeoutStatus, error) {
	record, err := s.timeoutRepo.GetActiveByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &TimeoutStatus{Active: false}, nil
	}

	remaining := record.Remaining(time.Now())
	if remaining <= 0 {
		return &TimeoutStatus{Active: false}, nil
	}
	return &TimeoutStatus{
		Active:      true,
		TimeoutNo:   record.TimeoutNo,
		RemainingMs: remaining.Milliseconds(),
	}, nil
}

// ObserveStatus 订阅连接的冷静期状态：立即收到当前快照，之后每次
// 状态切换都会收到推送。调用方负责 Unsubscribe
func (s *TimeoutService) ObserveStatus(ctx context.Context, connectionID string) (*watch.Subscription[string, *TimeoutStatus], error) {
	status, err := s.Status(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.statusHub.Subscribe(connectionID, status), nil
}

// Reconcile 对账扫描主体
//
// 对每条仍标记 active 的记录，用存储的开始时间+时长对当前时钟重算
// 剩余时长：已过期的立即 Expire（与存活计时器竞争是安全的）；未过期
// 但本地没有计时器的（如进程重启后）按重算的剩余时长重新拉起
func (s *TimeoutService) Reconcile(ctx context.Context, batchSize int) error {
	records, err := s.timeoutRepo.ListActive(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("查询生效中冷静期失败: %w", err)
	}

	now := time.Now()
	for _, record := range records {
		if record.Remaining(now) <= 0 {
			if err := s.Expire(ctx, record.TimeoutNo); err != nil {
				log.Printf("[Reconcile] 到期处理失败: timeoutNo=%s, err=%v", record.TimeoutNo, err)
			}
			continue
		}
		s.EnsureTimer(record)
	}
	return nil
}

// EnsureTimer 为仍在倒计时的记录补建本地计时器（若没有）
func (s *TimeoutService) EnsureTimer(record *model.TimeoutRecord) {
	if s.registry.has(record.ConnectionID) {
		return
	}
	s.armTimer(record)
}

// Monitoring 连接当前是否有存活的本地计时器（状态查询不依赖它）
func (s *TimeoutService) Monitoring(connectionID string) bool {
	return s.registry.has(connectionID)
}

// StopMonitoring 只取消该连接的本地倒计时，不改动存储状态
// 存储状态随时可由下一轮对账扫描恢复
func (s *TimeoutService) StopMonitoring(connectionID string) {
	s.registry.cancel(connectionID)
}

// Shutdown 进程退出：取消全部本地计时器，存储状态原样保留
func (s *TimeoutService) Shutdown() {
	s.registry.cancelAll()
}

// armTimer 启动（或顶替）连接的本地倒计时，到点调用 Expire
func (s *TimeoutService) armTimer(record *model.TimeoutRecord) {
	remaining := record.Remaining(time.Now())
	timeoutNo := record.TimeoutNo

	timer := time.AfterFunc(remaining, func() {
		// 计时器在独立 goroutine 触发，不携带请求上下文
		if err := s.Expire(context.Background(), timeoutNo); err != nil {
			log.Printf("计时器到期处理失败: timeoutNo=%s, err=%v", timeoutNo, err)
		}
	})

	s.registry.replace(record.ConnectionID, timeoutNo, timer)
}

// enqueueEvent 把冷静期事件写入 outbox，与业务变更同事务提交
func (s *TimeoutService) enqueueEvent(ctx context.Context, tx *gorm.DB, topic, event string, record *model.TimeoutRecord) error {
	msgPayload := map[string]interface{}{
		"event":              event,
		"timeout_no":         record.TimeoutNo,
		"connection_id":      record.ConnectionID,
		"requesting_user_id": record.RequestingUserID,
		"start_time":         record.StartTime.Format(time.RFC3339),
		"duration_ms":        record.DurationMs,
	}
	payloadBytes, _ := json.Marshal(msgPayload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: record.TimeoutNo,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// DateKey 配额键：UTC 日历日
// 刻意不用本地时区，跨时区配对和夏令时切换都不会产生歧义
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ============================================================
// 计时器注册表
// ============================================================

// timerRegistry 连接ID -> 当前计时器句柄
// 显式对象而非包级单例，插入/顶替/取消都在锁内完成，
// "同一连接至多一个存活计时器"是这里强制的不变量
type timerRegistry struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
}

type timerEntry struct {
	timeoutNo string
	timer     *time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		entries: make(map[string]*timerEntry),
	}
}

// replace 登记新计时器，旧的先停掉
func (r *timerRegistry) replace(connectionID, timeoutNo string, timer *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[connectionID]; ok {
		old.timer.Stop()
	}
	r.entries[connectionID] = &timerEntry{timeoutNo: timeoutNo, timer: timer}
}

func (r *timerRegistry) has(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[connectionID]
	return ok
}

// cancel 取消连接的计时器（若有）
func (r *timerRegistry) cancel(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[connectionID]; ok {
		entry.timer.Stop()
		delete(r.entries, connectionID)
	}
}

// cancelIf 仅当登记的计时器还指向这条记录时才移除
// 避免误删同连接上后来顶替进来的新计时器
func (r *timerRegistry) cancelIf(connectionID, timeoutNo string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[connectionID]; ok && entry.timeoutNo == timeoutNo {
		entry.timer.Stop()
		delete(r.entries, connectionID)
	}
}

func (r *timerRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connectionID, entry := range r.entries {
		entry.timer.Stop()
		delete(r.entries, connectionID)
	}
}
