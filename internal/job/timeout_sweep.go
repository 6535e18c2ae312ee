package job

import (
	"context"
	"log"
	"time"

	"browniepoints/internal/config"
	"browniepoints/internal/service"
)

// TimeoutSweep 冷静期对账扫描任务
//
// 固定间隔运行，与任何单个连接的计时器独立。每一轮把所有仍标记
// 生效的记录按存储时间重算一遍：到期的立即置为失效（与存活计时器
// 竞争是安全的，置失效是幂等的）；未到期但本地计时器丢失的（典型
// 场景：进程重启）重新拉起。这保证了权威状态不依赖任何内存里的
// 计时器活过重启
type TimeoutSweep struct {
	svc       *service.TimeoutService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewTimeoutSweep(svc *service.TimeoutService, cfg *config.Config) *TimeoutSweep {
	interval := cfg.Business.SweepInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TimeoutSweep{
		svc:       svc,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
	}
}

func (j *TimeoutSweep) Start(ctx context.Context) {
	log.Println("[TimeoutSweep] 冷静期对账任务启动")

	// 启动即对账一次，尽快恢复重启前的倒计时
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TimeoutSweep] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[TimeoutSweep] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *TimeoutSweep) Stop() {
	close(j.stopCh)
}

func (j *TimeoutSweep) sweep(ctx context.Context) {
	if err := j.svc.Reconcile(ctx, j.batchSize); err != nil {
		log.Printf("[TimeoutSweep] 对账失败: %v", err)
	}
}
