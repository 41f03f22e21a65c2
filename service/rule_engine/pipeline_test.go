/*
 * @module service/rule_engine/pipeline_test
 * @description 校验流水线单元测试，覆盖报告聚合、高严重级别过滤、链式转换与可重复性
 * @architecture 测试层 - 基于内存SQLite的集成测试
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 规则准备 -> 流水线执行 -> 报告与过滤断言
 * @rules 相同输入必须产出完全一致的报告；过滤数加保留数等于输入数
 * @dependencies testing, testify, sqlite
 * @refs pipeline.go
 */

package rule_engine

import (
	"encoding/json"
	"testing"

	"ruleengine-service/service/models"
	"ruleengine-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) (*Pipeline, *RuleStore, *testutil.TestDB) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	compiler := NewConditionCompiler()
	store := NewRuleStore(tdb.DB, compiler)
	executor := NewStrategyExecutor(compiler)
	metrics := NewMetricsRecorder(tdb.DB)
	pipeline := NewPipeline(store, executor, NewSuggester(), metrics)
	return pipeline, store, tdb
}

func TestApplyRulesEmptyInput(t *testing.T) {
	pipeline, _, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)
	factory.CreateQualityRule("ds1")

	report, err := pipeline.ApplyRulesToDataset("ds1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "ds1", report.DatasetID)
	assert.Equal(t, 0, report.TotalRules)
	assert.Equal(t, 0, report.TotalViolations)
	assert.NotNil(t, report.Results)
}

func TestApplyRulesAggregation(t *testing.T) {
	pipeline, _, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateQualityRule("ds1",
		testutil.WithCondition(`row["age"] != nil`),
		testutil.WithExecutionOrder(1))
	factory.CreateQualityRule("ds1",
		testutil.WithCondition(`toFloat(row["age"]) >= 0`),
		testutil.WithExecutionOrder(2))

	records := []map[string]interface{}{
		{"age": 25},
		{"age": -5},
		{"age": nil},
	}

	report, err := pipeline.ApplyRulesToDataset("ds1", records, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRules)
	assert.Equal(t, 0, report.PassedRules)
	assert.Equal(t, 2, report.FailedRules)
	// 第一条规则命中nil行，第二条命中负数行
	require.Len(t, report.Results, 2)
	assert.Equal(t, []int{2}, report.Results[0].FailingRows)
	assert.Equal(t, []int{1}, report.Results[1].FailingRows)
	assert.Equal(t, 2, report.TotalViolations)
}

func TestApplyRulesRecordsStats(t *testing.T) {
	pipeline, store, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateQualityRule("ds1", testutil.WithCondition(`row["v"] != nil`))

	_, err := pipeline.ApplyRulesToDataset("ds1", []map[string]interface{}{{"v": 1}}, nil)
	require.NoError(t, err)

	updated, err := store.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.ExecutionCount)
	assert.Equal(t, int64(1), updated.SuccessCount)

	var metricCount int64
	tdb.DB.Model(&models.RuleExecutionMetric{}).Count(&metricCount)
	assert.Equal(t, int64(1), metricCount)
}

func TestApplyRulesExplicitRuleIDs(t *testing.T) {
	pipeline, _, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	picked := factory.CreateQualityRule("ds1", testutil.WithCondition(`row["a"] != nil`))
	factory.CreateQualityRule("ds1", testutil.WithCondition(`row["b"] != nil`))
	// 显式指定时连未启用的规则也可运行
	disabled := factory.CreateQualityRule("ds1",
		testutil.WithCondition(`row["c"] != nil`),
		testutil.WithEnabled(false))

	report, err := pipeline.ApplyRulesToDataset("ds1", []map[string]interface{}{{"a": 1, "c": nil}}, []string{picked.ID, disabled.ID})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRules)
	ruleIDs := []string{report.Results[0].RuleID, report.Results[1].RuleID}
	assert.Contains(t, ruleIDs, picked.ID)
	assert.Contains(t, ruleIDs, disabled.ID)
}

func TestApplyRulesTransformationChaining(t *testing.T) {
	pipeline, store, _ := newTestPipeline(t)

	// 转换规则先运行，把age转为数值字段的两倍，校验规则看到转换后的值
	transform := models.QualityRule{
		Name:           "翻倍转换",
		DatasetID:      "ds1",
		RuleType:       models.RuleTypeTransformation,
		Source:         models.SourceManual,
		Condition:      "out := map[string]interface{}{}\n\tfor k, v := range row {\n\t\tout[k] = v\n\t}\n\tout[\"age\"] = toFloat(row[\"age\"]) * 2\n\treturn out, nil",
		ExecutionOrder: 1,
		IsEnabled:      true,
		Confidence:     1,
	}
	require.NoError(t, store.CreateRule(&transform))

	check := models.QualityRule{
		Name:           "翻倍后检查",
		DatasetID:      "ds1",
		Source:         models.SourceExpression,
		Condition:      `toFloat(row["age"]) >= 20`,
		ExecutionOrder: 2,
		IsEnabled:      true,
		Confidence:     1,
	}
	require.NoError(t, store.CreateRule(&check))

	report, err := pipeline.ApplyRulesToDataset("ds1", []map[string]interface{}{
		{"age": 15},
		{"age": 5},
	}, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Success)
	// 15*2=30通过，5*2=10违规
	assert.Equal(t, []int{1}, report.Results[1].FailingRows)
}

func TestApplyRulesIsRepeatable(t *testing.T) {
	pipeline, _, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateQualityRule("ds1", testutil.WithCondition(`toFloat(row["v"]) > 0`))
	factory.CreateQualityRule("ds1",
		testutil.WithSource(models.SourceExpectation),
		testutil.WithCondition("values_not_null(v)"))

	records := []map[string]interface{}{{"v": 1}, {"v": -2}, {"v": nil}}

	first, err := pipeline.ApplyRulesToDataset("ds1", records, nil)
	require.NoError(t, err)
	second, err := pipeline.ApplyRulesToDataset("ds1", records, nil)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestValidateDataFiltersHighSeverityViolations(t *testing.T) {
	pipeline, _, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	// 高严重级别规则命中第2、5行，中等级别规则的违规不参与剔除
	factory.CreateQualityRule("ds1",
		testutil.WithCondition(`toFloat(row["age"]) >= 0 && toFloat(row["age"]) <= 150`),
		testutil.WithSeverity(models.SeverityHigh))
	factory.CreateQualityRule("ds1",
		testutil.WithCondition(`row["name"] != nil`),
		testutil.WithSeverity(models.SeverityMedium))

	records := []map[string]interface{}{
		{"age": 30, "name": "a"},
		{"age": 40, "name": nil},
		{"age": -1, "name": "c"},
		{"age": 50, "name": "d"},
		{"age": 60, "name": nil},
		{"age": 200, "name": "f"},
	}

	output, err := pipeline.ValidateDataWithRules("ds1", records, ValidateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, output.SkippedCount)
	assert.Len(t, output.FilteredRecords, 4)
	assert.Equal(t, len(records), len(output.FilteredRecords)+output.SkippedCount)

	// 中等级别违规的行保留在输出中
	names := make([]interface{}, 0)
	for _, row := range output.FilteredRecords {
		names = append(names, row["name"])
	}
	assert.Contains(t, names, nil)

	assert.Equal(t, []int{2, 5}, SkippedRowIndexes(output.Report))
}

func TestValidateDataRestrictsToValidationRules(t *testing.T) {
	pipeline, store, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateQualityRule("ds1", testutil.WithCondition(`row["v"] != nil`))

	enrich := models.QualityRule{
		Name:       "丰富规则",
		DatasetID:  "ds1",
		RuleType:   models.RuleTypeEnrichment,
		Source:     models.SourceManual,
		Condition:  `toFloat(row["v"]) * 10`,
		Action:     models.JSONB{"target_field": "scaled"},
		IsEnabled:  true,
		Confidence: 1,
	}
	require.NoError(t, store.CreateRule(&enrich))

	output, err := pipeline.ValidateDataWithRules("ds1", []map[string]interface{}{{"v": 1}}, ValidateOptions{})
	require.NoError(t, err)

	// 未显式指定规则时仅运行校验类型规则
	assert.Equal(t, 1, output.Report.TotalRules)
	assert.Equal(t, models.RuleTypeValidation, output.Report.Results[0].RuleType)

	// 显式指定时不过滤类型
	output, err = pipeline.ValidateDataWithRules("ds1", []map[string]interface{}{{"v": 1}}, ValidateOptions{
		RuleIDs: []string{enrich.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, output.Report.TotalRules)
	assert.Equal(t, models.RuleTypeEnrichment, output.Report.Results[0].RuleType)
}

func TestValidateDataEmptyInput(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t)

	output, err := pipeline.ValidateDataWithRules("ds1", nil, ValidateOptions{IncludeSuggestions: true})
	require.NoError(t, err)

	assert.Equal(t, 0, output.Report.TotalRules)
	assert.NotNil(t, output.FilteredRecords)
	assert.Empty(t, output.FilteredRecords)
	assert.Equal(t, 0, output.SkippedCount)
	assert.Nil(t, output.Suggestions)
	assert.Nil(t, output.EstimatedImpact)
}

func TestValidateDataWithSuggestions(t *testing.T) {
	pipeline, _, tdb := newTestPipeline(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateQualityRule("ds1",
		testutil.WithCondition(`toFloat(row["age"]) >= 0`),
		testutil.WithSeverity(models.SeverityHigh))

	records := make([]map[string]interface{}, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, map[string]interface{}{"age": 20 + i})
	}
	records = append(records, map[string]interface{}{"age": -3})

	output, err := pipeline.ValidateDataWithRules("ds1", records, ValidateOptions{
		IncludeSuggestions: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, output.Suggestions)
	require.NotNil(t, output.EstimatedImpact)
	assert.Equal(t, len(records), output.EstimatedImpact.SampleSize)
	assert.Equal(t, len(records), output.EstimatedImpact.TotalRecords)
	assert.Equal(t, 1, output.EstimatedImpact.SampleViolations)
	// 样本等于全量时外推值等于样本违规数
	assert.InDelta(t, 1.0, output.EstimatedImpact.EstimatedViolations, 1e-9)
}
