/*
 * @module service/scheduler/retention_scheduler
 * @description 指标保留期清理调度器，按cron表达式定时删除超出保留窗口的指标记录，多实例下通过分布式锁防重
 * @architecture 分层架构 - 调度层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 调度器启动 -> 定时触发 -> 获取分布式锁 -> 执行清理 -> 释放锁
 * @rules 清理任务在任一时刻至多一个实例执行；未配置分布式锁时退化为单实例直接执行
 * @dependencies github.com/robfig/cron/v3
 * @refs service/rule_engine/metrics_recorder.go, service/distributed_lock/redis_lock.go
 */

package scheduler

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"ruleengine-service/service/distributed_lock"
	"ruleengine-service/service/rule_engine"

	"github.com/robfig/cron/v3"
)

// 清理任务默认配置
const (
	// DefaultCleanupCron 每天凌晨3点执行
	DefaultCleanupCron = "0 0 3 * * *"
	cleanupLockKey     = "metrics_retention_cleanup"
	cleanupLockTTL     = 10 * time.Minute
)

// RetentionScheduler 指标保留期清理调度器
type RetentionScheduler struct {
	cron          *cron.Cron
	metrics       *rule_engine.MetricsRecorder
	lock          distributed_lock.DistributedLock
	retentionDays int
	cronSpec      string
}

// NewRetentionScheduler 创建保留期清理调度器
// lock为nil时不做多实例互斥
func NewRetentionScheduler(metrics *rule_engine.MetricsRecorder, lock distributed_lock.DistributedLock) *RetentionScheduler {
	retentionDays := rule_engine.DefaultRetentionDays
	if raw := os.Getenv("METRICS_RETENTION_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			retentionDays = days
		}
	}

	cronSpec := DefaultCleanupCron
	if raw := os.Getenv("METRICS_CLEANUP_CRON"); raw != "" {
		cronSpec = raw
	}

	return &RetentionScheduler{
		cron:          cron.New(cron.WithSeconds()),
		metrics:       metrics,
		lock:          lock,
		retentionDays: retentionDays,
		cronSpec:      cronSpec,
	}
}

// Start 启动调度器
func (s *RetentionScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cronSpec, s.runCleanup); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("指标保留期清理调度器已启动",
		"cron", s.cronSpec,
		"retention_days", s.retentionDays)
	return nil
}

// Stop 停止调度器
func (s *RetentionScheduler) Stop() {
	s.cron.Stop()
	slog.Info("指标保留期清理调度器已停止")
}

// RunOnce 立即执行一次清理，供手动触发
func (s *RetentionScheduler) RunOnce() (int64, error) {
	return s.metrics.Cleanup(s.retentionDays)
}

// runCleanup 定时清理入口，多实例下通过分布式锁防重
func (s *RetentionScheduler) runCleanup() {
	cleanup := func() error {
		deleted, err := s.metrics.Cleanup(s.retentionDays)
		if err != nil {
			return err
		}
		slog.Info("指标定时清理完成", "deleted", deleted, "retention_days", s.retentionDays)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupLockTTL)
	defer cancel()

	var err error
	if s.lock != nil {
		err = distributed_lock.ExecuteWithLock(ctx, s.lock, cleanupLockKey, cleanupLockTTL, cleanup)
	} else {
		err = cleanup()
	}
	if err != nil {
		slog.Error("指标定时清理失败", "error", err)
	}
}
