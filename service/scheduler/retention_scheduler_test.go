/*
 * @module service/scheduler/retention_scheduler_test
 * @description 保留期清理调度器单元测试
 * @architecture 测试层 - 基于内存SQLite的集成测试
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 指标写入 -> 手动触发清理 -> 删除断言
 * @rules 未配置分布式锁时清理直接执行
 * @dependencies testing, testify, sqlite
 * @refs retention_scheduler.go
 */

package scheduler

import (
	"testing"
	"time"

	"ruleengine-service/service/models"
	"ruleengine-service/service/rule_engine"
	"ruleengine-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceCleansExpiredMetrics(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	metrics := rule_engine.NewMetricsRecorder(tdb.DB)
	metrics.RecordExecution(&models.RuleExecutionMetric{
		RuleID:    "r1",
		DatasetID: "ds1",
		Success:   true,
		CreatedAt: time.Now().AddDate(0, 0, -60),
	})
	metrics.RecordExecution(&models.RuleExecutionMetric{
		RuleID:    "r1",
		DatasetID: "ds1",
		Success:   true,
	})

	scheduler := NewRetentionScheduler(metrics, nil)

	deleted, err := scheduler.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	tdb.DB.Model(&models.RuleExecutionMetric{}).Count(&remaining)
	assert.Equal(t, int64(1), remaining)
}

func TestSchedulerStartStop(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	scheduler := NewRetentionScheduler(rule_engine.NewMetricsRecorder(tdb.DB), nil)
	require.NoError(t, scheduler.Start())
	scheduler.Stop()
}
