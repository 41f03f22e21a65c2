/*
 * @module service/rule_engine/metrics_recorder_test
 * @description 指标记录器单元测试，覆盖窗口解析、聚合查询与保留期清理
 * @architecture 测试层 - 基于内存SQLite的集成测试
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 指标写入 -> 窗口聚合 -> 清理断言
 * @rules 聚合只统计窗口内记录；清理只删除早于截止时间的记录
 * @dependencies testing, testify, sqlite
 * @refs metrics_recorder.go
 */

package rule_engine

import (
	"testing"
	"time"

	"ruleengine-service/service/models"
	"ruleengine-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) (*MetricsRecorder, *testutil.TestDB) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return NewMetricsRecorder(tdb.DB), tdb
}

func TestParseTimePeriod(t *testing.T) {
	testCases := []struct {
		name   string
		period string
		want   time.Duration
	}{
		{name: "7天", period: "7d", want: 7 * 24 * time.Hour},
		{name: "30天", period: "30d", want: 30 * 24 * time.Hour},
		{name: "1天", period: "1d", want: 24 * time.Hour},
		{name: "大写", period: "14D", want: 14 * 24 * time.Hour},
		{name: "带空白", period: " 3d ", want: 3 * 24 * time.Hour},
		{name: "空串回落", period: "", want: 7 * 24 * time.Hour},
		{name: "非法格式回落", period: "oneweek", want: 7 * 24 * time.Hour},
		{name: "零天回落", period: "0d", want: 7 * 24 * time.Hour},
		{name: "负数回落", period: "-3d", want: 7 * 24 * time.Hour},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseTimePeriod(tc.period))
		})
	}
}

func TestRecordExecutionStampsCreatedAt(t *testing.T) {
	recorder, tdb := newTestRecorder(t)

	recorder.RecordExecution(&models.RuleExecutionMetric{
		RuleID:    "r1",
		DatasetID: "ds1",
		Success:   true,
	})

	var stored models.RuleExecutionMetric
	require.NoError(t, tdb.DB.First(&stored).Error)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestGetRuleMetricsAggregation(t *testing.T) {
	recorder, tdb := newTestRecorder(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateQualityRule("ds1")
	now := time.Now()

	// 窗口内: 规则rule 2成功1失败，另一规则r2 1成功
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: rule.ID, DatasetID: "ds1", Success: true, ExecutionTimeMs: 10, CreatedAt: now.Add(-2 * time.Hour)})
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: rule.ID, DatasetID: "ds1", Success: true, ExecutionTimeMs: 20, CreatedAt: now.Add(-1 * time.Hour)})
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: rule.ID, DatasetID: "ds1", Success: false, ViolationCount: 3, ExecutionTimeMs: 30, CreatedAt: now.Add(-30 * time.Minute)})
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: "r2", DatasetID: "ds1", Success: true, ExecutionTimeMs: 8, CreatedAt: now.Add(-10 * time.Minute)})

	// 窗口外与其他数据集的记录不参与聚合
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: rule.ID, DatasetID: "ds1", Success: false, ViolationCount: 99, CreatedAt: now.Add(-10 * 24 * time.Hour)})
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: rule.ID, DatasetID: "ds2", Success: false, ViolationCount: 50, CreatedAt: now})

	report, err := recorder.GetRuleMetrics("ds1", "7d", nil)
	require.NoError(t, err)

	assert.Equal(t, "ds1", report.DatasetID)
	assert.Equal(t, "7d", report.TimePeriod)
	require.Len(t, report.Rules, 2)

	summary := report.Rules[0]
	assert.Equal(t, rule.ID, summary.RuleID)
	assert.Equal(t, rule.Name, summary.RuleName)
	assert.Equal(t, int64(3), summary.ExecutionCount)
	assert.Equal(t, int64(2), summary.SuccessCount)
	assert.InDelta(t, 2.0/3.0, summary.SuccessRate, 1e-9)
	assert.InDelta(t, 20.0, summary.AvgExecutionMs, 1e-9)
	assert.Equal(t, int64(3), summary.TotalViolations)

	// 无对应规则记录时名称留空
	assert.Equal(t, "r2", report.Rules[1].RuleID)
	assert.Empty(t, report.Rules[1].RuleName)

	assert.InDelta(t, 3.0/4.0, report.SuccessRate, 1e-9)
	assert.NotEmpty(t, report.Trend)

	var trendExecutions int64
	for _, point := range report.Trend {
		trendExecutions += point.ExecutionCount
	}
	assert.Equal(t, int64(4), trendExecutions)
}

func TestGetRuleMetricsFiltersByRuleIDs(t *testing.T) {
	recorder, _ := newTestRecorder(t)
	now := time.Now()

	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: "r1", DatasetID: "ds1", Success: true, CreatedAt: now})
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: "r2", DatasetID: "ds1", Success: false, CreatedAt: now})

	report, err := recorder.GetRuleMetrics("ds1", "7d", []string{"r1"})
	require.NoError(t, err)

	require.Len(t, report.Rules, 1)
	assert.Equal(t, "r1", report.Rules[0].RuleID)
	assert.Equal(t, 1.0, report.SuccessRate)
}

func TestGetRuleMetricsEmptyWindow(t *testing.T) {
	recorder, _ := newTestRecorder(t)

	report, err := recorder.GetRuleMetrics("ds1", "7d", nil)
	require.NoError(t, err)

	assert.Empty(t, report.Rules)
	assert.Empty(t, report.Trend)
	assert.Equal(t, 0.0, report.SuccessRate)
}

func TestRecordGeneration(t *testing.T) {
	recorder, tdb := newTestRecorder(t)

	recorder.RecordGeneration(&models.RuleGenerationMetric{
		DatasetID: "ds1",
		Engine:    "statistical",
		RuleCount: 5,
		Success:   true,
	})

	var stored models.RuleGenerationMetric
	require.NoError(t, tdb.DB.First(&stored).Error)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "statistical", stored.Engine)
	assert.Equal(t, 5, stored.RuleCount)
}

func TestCleanupDeletesOnlyExpiredMetrics(t *testing.T) {
	recorder, tdb := newTestRecorder(t)
	now := time.Now()

	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: "r1", DatasetID: "ds1", Success: true, CreatedAt: now.Add(-40 * 24 * time.Hour)})
	recorder.RecordExecution(&models.RuleExecutionMetric{RuleID: "r1", DatasetID: "ds1", Success: true, CreatedAt: now.Add(-5 * 24 * time.Hour)})
	recorder.RecordGeneration(&models.RuleGenerationMetric{DatasetID: "ds1", Engine: "statistical", Success: true, CreatedAt: now.Add(-40 * 24 * time.Hour)})
	recorder.RecordGeneration(&models.RuleGenerationMetric{DatasetID: "ds1", Engine: "statistical", Success: true, CreatedAt: now})

	deleted, err := recorder.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var execCount, genCount int64
	tdb.DB.Model(&models.RuleExecutionMetric{}).Count(&execCount)
	tdb.DB.Model(&models.RuleGenerationMetric{}).Count(&genCount)
	assert.Equal(t, int64(1), execCount)
	assert.Equal(t, int64(1), genCount)

	// 保留天数非法时使用默认值，不再删除剩余记录
	deleted, err = recorder.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}
