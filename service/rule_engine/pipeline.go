/*
 * @module service/rule_engine/pipeline
 * @description 数据校验流水线，按执行顺序对数据集运行规则，聚合报告、过滤高严重级别违规记录并外推建议影响
 * @architecture 分层架构 - 业务服务层，编排存储、策略分发与指标记录
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 加载规则 -> 顺序执行 -> 聚合报告 -> 高严重级别过滤 -> 指标记录
 * @rules 单条规则失败不中断批次；空输入返回零规则报告不报错；报告内容对相同输入完全可重复
 * @dependencies gorm.io/gorm
 * @refs service/rule_engine/strategies.go, service/rule_engine/suggester.go, service/rule_engine/metrics_recorder.go
 */

package rule_engine

import (
	"sort"
	"time"

	"ruleengine-service/service/models"
)

// SuggestionSampleLimit 校验流程中用于建议生成的采样上限
const SuggestionSampleLimit = 100

// Pipeline 数据校验流水线
type Pipeline struct {
	store     *RuleStore
	executor  *StrategyExecutor
	suggester *Suggester
	metrics   *MetricsRecorder
}

// NewPipeline 创建校验流水线
func NewPipeline(store *RuleStore, executor *StrategyExecutor, suggester *Suggester, metrics *MetricsRecorder) *Pipeline {
	return &Pipeline{
		store:     store,
		executor:  executor,
		suggester: suggester,
		metrics:   metrics,
	}
}

// ApplyRulesToDataset 对数据集记录按执行顺序运行规则并聚合报告
// ruleIDs非空时仅运行指定规则，否则运行数据集的全部启用规则
func (p *Pipeline) ApplyRulesToDataset(datasetID string, records []map[string]interface{}, ruleIDs []string) (*models.ValidationReport, error) {
	return p.apply(datasetID, records, ruleIDs, false, true)
}

// apply 规则执行主循环
// validationOnly在未显式指定规则时仅保留校验类型规则；recordStats为false时跳过统计与指标写入
func (p *Pipeline) apply(datasetID string, records []map[string]interface{}, ruleIDs []string, validationOnly, recordStats bool) (*models.ValidationReport, error) {
	report := &models.ValidationReport{
		DatasetID: datasetID,
		Results:   make([]models.RuleExecutionResult, 0),
	}

	if len(records) == 0 {
		return report, nil
	}

	var rules []models.QualityRule
	var err error
	if len(ruleIDs) > 0 {
		rules, err = p.store.GetRulesByIDs(ruleIDs)
	} else {
		rules, err = p.store.ListActiveRules(datasetID)
		if err == nil && validationOnly {
			// 规则切片来自共享缓存，过滤时必须复制
			kept := make([]models.QualityRule, 0, len(rules))
			for _, rule := range rules {
				if rule.RuleType == models.RuleTypeValidation {
					kept = append(kept, rule)
				}
			}
			rules = kept
		}
	}
	if err != nil {
		return nil, err
	}

	current := records
	for i := range rules {
		rule := &rules[i]
		started := time.Now()
		result := p.executor.ExecuteRule(rule, current)
		elapsed := time.Since(started)

		// 转换和丰富规则的输出作为后续规则的输入
		if len(result.ProcessedRecords) > 0 {
			current = result.ProcessedRecords
		}

		report.Results = append(report.Results, *result)
		report.TotalRules++
		if result.Success {
			report.PassedRules++
		} else {
			report.FailedRules++
		}
		report.TotalViolations += result.ViolationCount

		if !recordStats {
			continue
		}
		p.store.UpdateExecutionStats(rule.ID, result.Success)
		if p.metrics != nil {
			p.metrics.RecordExecution(&models.RuleExecutionMetric{
				RuleID:          rule.ID,
				DatasetID:       datasetID,
				Success:         result.Success,
				ViolationCount:  result.ViolationCount,
				ExecutionTimeMs: elapsed.Milliseconds(),
			})
		}
	}

	return report, nil
}

// ValidateOptions 数据校验的可选参数
type ValidateOptions struct {
	// RuleIDs 显式指定规则集合，为空时使用数据集的启用校验规则
	RuleIDs []string
	// IncludeSuggestions 是否对采样数据生成候选规则并外推影响
	IncludeSuggestions bool
	// ConfidenceThreshold 建议置信度下限，0时取默认值
	ConfidenceThreshold float64
	// MaxSuggestions 建议数量上限，0时取默认值
	MaxSuggestions int
}

// ValidateDataWithRules 校验数据并剔除命中高严重级别规则的记录
// 未显式指定规则时仅运行校验类型规则；可选地从采样数据生成候选规则并按样本违规外推整体影响
func (p *Pipeline) ValidateDataWithRules(datasetID string, records []map[string]interface{}, opts ValidateOptions) (*models.ValidationOutput, error) {
	report, err := p.apply(datasetID, records, opts.RuleIDs, true, true)
	if err != nil {
		return nil, err
	}

	output := &models.ValidationOutput{
		Report:          report,
		FilteredRecords: records,
	}
	if len(records) == 0 {
		output.FilteredRecords = make([]map[string]interface{}, 0)
		return output, nil
	}

	// 仅高严重级别规则的违规行进入剔除集合，取并集
	skip := make(map[int]bool)
	for _, result := range report.Results {
		if result.Severity != models.SeverityHigh || result.Success {
			continue
		}
		for _, idx := range result.FailingRows {
			if idx >= 0 && idx < len(records) {
				skip[idx] = true
			}
		}
	}

	if len(skip) > 0 {
		filtered := make([]map[string]interface{}, 0, len(records)-len(skip))
		for idx, row := range records {
			if !skip[idx] {
				filtered = append(filtered, row)
			}
		}
		output.FilteredRecords = filtered
		output.SkippedCount = len(skip)
	}

	if opts.IncludeSuggestions && p.suggester != nil {
		sample := records
		if len(sample) > SuggestionSampleLimit {
			sample = sample[:SuggestionSampleLimit]
		}
		suggestion := p.suggester.SuggestRules(datasetID, sample, opts.ConfidenceThreshold, opts.MaxSuggestions)
		if !suggestion.Empty {
			output.Suggestions = suggestion.Suggestions
		}

		// 样本重跑仅用于影响外推，不重复记录统计与指标
		sampleReport := report
		if len(sample) < len(records) {
			sampleReport, err = p.apply(datasetID, sample, opts.RuleIDs, true, false)
		}
		if err == nil && len(sample) > 0 {
			output.EstimatedImpact = &models.SuggestionImpact{
				SampleSize:          len(sample),
				TotalRecords:        len(records),
				SampleViolations:    sampleReport.TotalViolations,
				EstimatedViolations: float64(sampleReport.TotalViolations) * float64(len(records)) / float64(len(sample)),
			}
		}
	}

	return output, nil
}

// SkippedRowIndexes 返回报告中应剔除的行号，升序
// 供调用方在不执行过滤时复用剔除语义
func SkippedRowIndexes(report *models.ValidationReport) []int {
	skip := make(map[int]bool)
	for _, result := range report.Results {
		if result.Severity != models.SeverityHigh || result.Success {
			continue
		}
		for _, idx := range result.FailingRows {
			skip[idx] = true
		}
	}
	indexes := make([]int, 0, len(skip))
	for idx := range skip {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}
