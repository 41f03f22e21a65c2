/*
 * @module service/rule_engine/metrics_recorder
 * @description 规则指标记录器，追加写入执行/生成指标，提供按时间窗口的聚合查询与保留期清理
 * @architecture 分层架构 - 业务服务层，追加写入读侧聚合
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 指标产生 -> 追加写入 -> 读侧按窗口聚合 -> 保留期清理
 * @rules 指标写入失败只记录日志不向调用方传播；指标记录插入后不再变更
 * @dependencies gorm.io/gorm, github.com/prometheus/client_golang
 * @refs service/models/rule_engine_models.go, service/scheduler/retention_scheduler.go
 */

package rule_engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"ruleengine-service/service/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

// DefaultRetentionDays 指标默认保留天数
const DefaultRetentionDays = 30

var (
	ruleExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_engine_executions_total",
		Help: "规则执行总次数，按结果区分",
	}, []string{"result"})

	ruleViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rule_engine_violations_total",
		Help: "规则执行累计违规条数",
	})

	ruleExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rule_engine_execution_duration_seconds",
		Help:    "单条规则执行耗时",
		Buckets: prometheus.DefBuckets,
	})

	ruleGenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_engine_generations_total",
		Help: "规则生成总次数，按引擎与结果区分",
	}, []string{"engine", "result"})
)

// MetricsRecorder 指标记录器
type MetricsRecorder struct {
	db *gorm.DB
}

// NewMetricsRecorder 创建指标记录器
func NewMetricsRecorder(db *gorm.DB) *MetricsRecorder {
	return &MetricsRecorder{db: db}
}

// RecordExecution 追加一条规则执行指标，失败仅记录日志
func (m *MetricsRecorder) RecordExecution(metric *models.RuleExecutionMetric) {
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = time.Now()
	}
	if err := m.db.Create(metric).Error; err != nil {
		slog.Warn("写入规则执行指标失败", "rule_id", metric.RuleID, "error", err)
		return
	}

	result := "failure"
	if metric.Success {
		result = "success"
	}
	ruleExecutionsTotal.WithLabelValues(result).Inc()
	ruleViolationsTotal.Add(float64(metric.ViolationCount))
	ruleExecutionSeconds.Observe(float64(metric.ExecutionTimeMs) / 1000)
}

// RecordGeneration 追加一条规则生成指标，失败仅记录日志
func (m *MetricsRecorder) RecordGeneration(metric *models.RuleGenerationMetric) {
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = time.Now()
	}
	if err := m.db.Create(metric).Error; err != nil {
		slog.Warn("写入规则生成指标失败", "dataset_id", metric.DatasetID, "error", err)
		return
	}

	result := "failure"
	if metric.Success {
		result = "success"
	}
	ruleGenerationsTotal.WithLabelValues(metric.Engine, result).Inc()
}

// ParseTimePeriod 解析"Nd"形式的时间窗口，非法输入回落为7天
func ParseTimePeriod(period string) time.Duration {
	period = strings.TrimSpace(strings.ToLower(period))
	if strings.HasSuffix(period, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(period, "d")); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return 7 * 24 * time.Hour
}

// GetRuleMetrics 按时间窗口聚合数据集的规则执行指标
// ruleIDs非空时仅统计指定规则；聚合在内存完成以兼容不同数据库方言
func (m *MetricsRecorder) GetRuleMetrics(datasetID, timePeriod string, ruleIDs []string) (*models.DatasetMetricsReport, error) {
	since := time.Now().Add(-ParseTimePeriod(timePeriod))

	query := m.db.Where("dataset_id = ? AND created_at >= ?", datasetID, since)
	if len(ruleIDs) > 0 {
		query = query.Where("rule_id IN ?", ruleIDs)
	}

	var metrics []models.RuleExecutionMetric
	if err := query.Order("created_at ASC").Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}

	report := &models.DatasetMetricsReport{
		DatasetID:  datasetID,
		TimePeriod: timePeriod,
		Rules:      make([]models.RuleMetricsSummary, 0),
		Trend:      make([]models.MetricsTrendPoint, 0),
	}

	type ruleAgg struct {
		executions int64
		successes  int64
		violations int64
		totalMs    int64
	}
	type dayAgg struct {
		executions int64
		successes  int64
		violations int64
	}

	byRule := make(map[string]*ruleAgg)
	byDay := make(map[string]*dayAgg)
	ruleOrder := make([]string, 0)
	var totalExecutions, totalSuccesses int64

	for _, metric := range metrics {
		agg, ok := byRule[metric.RuleID]
		if !ok {
			agg = &ruleAgg{}
			byRule[metric.RuleID] = agg
			ruleOrder = append(ruleOrder, metric.RuleID)
		}
		agg.executions++
		agg.violations += int64(metric.ViolationCount)
		agg.totalMs += metric.ExecutionTimeMs

		day := metric.CreatedAt.Format("2006-01-02")
		dAgg, ok := byDay[day]
		if !ok {
			dAgg = &dayAgg{}
			byDay[day] = dAgg
		}
		dAgg.executions++
		dAgg.violations += int64(metric.ViolationCount)

		totalExecutions++
		if metric.Success {
			agg.successes++
			dAgg.successes++
			totalSuccesses++
		}
	}

	for _, ruleID := range ruleOrder {
		agg := byRule[ruleID]
		summary := models.RuleMetricsSummary{
			RuleID:          ruleID,
			ExecutionCount:  agg.executions,
			SuccessCount:    agg.successes,
			SuccessRate:     float64(agg.successes) / float64(agg.executions),
			AvgExecutionMs:  float64(agg.totalMs) / float64(agg.executions),
			TotalViolations: agg.violations,
		}
		var rule models.QualityRule
		if err := m.db.Select("name").First(&rule, "id = ?", ruleID).Error; err == nil {
			summary.RuleName = rule.Name
		}
		report.Rules = append(report.Rules, summary)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	// 日期字符串字典序即时间序
	sort.Strings(days)
	for _, day := range days {
		dAgg := byDay[day]
		report.Trend = append(report.Trend, models.MetricsTrendPoint{
			Date:            day,
			ExecutionCount:  dAgg.executions,
			SuccessRate:     float64(dAgg.successes) / float64(dAgg.executions),
			TotalViolations: dAgg.violations,
		})
	}

	if totalExecutions > 0 {
		report.SuccessRate = float64(totalSuccesses) / float64(totalExecutions)
	}
	return report, nil
}

// Cleanup 删除早于保留窗口的指标记录，返回删除总数
func (m *MetricsRecorder) Cleanup(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	execResult := m.db.Where("created_at < ?", cutoff).Delete(&models.RuleExecutionMetric{})
	if execResult.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrRepository, execResult.Error)
	}
	genResult := m.db.Where("created_at < ?", cutoff).Delete(&models.RuleGenerationMetric{})
	if genResult.Error != nil {
		return execResult.RowsAffected, fmt.Errorf("%w: %v", ErrRepository, genResult.Error)
	}

	deleted := execResult.RowsAffected + genResult.RowsAffected
	if deleted > 0 {
		slog.Info("指标保留期清理完成", "deleted", deleted, "cutoff", cutoff.Format("2006-01-02"))
	}
	return deleted, nil
}
