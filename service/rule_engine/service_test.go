/*
 * @module service/rule_engine/service_test
 * @description 规则引擎服务门面单元测试，覆盖生成引擎路由、数据集采样回退与事件通知
 * @architecture 测试层 - 基于内存SQLite的集成测试
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 服务装配 -> 操作调用 -> 路由与指标断言
 * @rules 未注册引擎返回校验错误；生成指标无论成败都有记录
 * @dependencies testing, testify, sqlite
 * @refs service.go
 */

package rule_engine

import (
	"errors"
	"fmt"
	"testing"

	"ruleengine-service/service/models"
	"ruleengine-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *testutil.TestDB) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return NewService(tdb.DB), tdb
}

// stubAccessor 测试用数据集访问器
type stubAccessor struct {
	records []map[string]interface{}
	err     error
}

func (s *stubAccessor) GetDatasetSample(datasetID string, limit int) ([]map[string]interface{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.records) > limit {
		return s.records[:limit], nil
	}
	return s.records, nil
}

// stubProvider 测试用外部生成提供方
type stubProvider struct {
	suggestions []models.RuleSuggestion
	err         error
	gotModel    string
}

func (p *stubProvider) GenerateRules(datasetID string, columnMeta []models.ColumnMeta, modelType string) ([]models.RuleSuggestion, error) {
	p.gotModel = modelType
	return p.suggestions, p.err
}

// stubNotifier 测试用校验结果通知器
type stubNotifier struct {
	published []string
	err       error
}

func (n *stubNotifier) PublishValidationResult(datasetID string, report *models.ValidationReport) error {
	n.published = append(n.published, datasetID)
	return n.err
}

func TestSuggestRulesFromDataFallsBackToAccessor(t *testing.T) {
	svc, _ := newTestService(t)

	// 未配置访问器且无样本时报错
	_, err := svc.SuggestRulesFromData("ds1", nil, 0, 0)
	assert.True(t, errors.Is(err, ErrValidation))

	svc.SetDatasetAccessor(&stubAccessor{records: []map[string]interface{}{
		{"age": 25}, {"age": 30}, {"age": 45},
	}})

	result, err := svc.SuggestRulesFromData("ds1", nil, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Suggestions)

	// 显式样本优先于访问器
	explicit, err := svc.SuggestRulesFromData("ds1", []map[string]interface{}{{"name": "x"}}, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, findSuggestion(explicit.Suggestions, "range:age"))

	// 采样失败映射为存储错误
	svc.SetDatasetAccessor(&stubAccessor{err: fmt.Errorf("table missing")})
	_, err = svc.SuggestRulesFromData("ds1", nil, 0, 0)
	assert.True(t, errors.Is(err, ErrRepository))
}

func TestGenerateRulesStatisticalEngine(t *testing.T) {
	svc, tdb := newTestService(t)
	svc.SetDatasetAccessor(&stubAccessor{records: []map[string]interface{}{
		{"qty": 1}, {"qty": 2}, {"qty": 3},
	}})

	suggestions, err := svc.GenerateRules("ds1", nil, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)

	// 引擎名为空时落到内置统计引擎，生成指标已记录
	var metric models.RuleGenerationMetric
	require.NoError(t, tdb.DB.First(&metric).Error)
	assert.Equal(t, EngineStatistical, metric.Engine)
	assert.True(t, metric.Success)
	assert.Equal(t, len(suggestions), metric.RuleCount)
}

func TestGenerateRulesExternalProvider(t *testing.T) {
	svc, tdb := newTestService(t)

	// 未注册引擎
	_, err := svc.GenerateRules("ds1", nil, "llm", "gpt")
	assert.True(t, errors.Is(err, ErrValidation))

	provider := &stubProvider{suggestions: []models.RuleSuggestion{
		{Name: "外部规则", Condition: "true", Confidence: 0.7},
	}}
	svc.RegisterGenerationProvider("llm", provider)

	suggestions, err := svc.GenerateRules("ds1", nil, "llm", "gpt")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "gpt", provider.gotModel)

	// 提供方失败映射为执行错误，指标记录为失败
	svc.RegisterGenerationProvider("broken", &stubProvider{err: fmt.Errorf("quota exceeded")})
	_, err = svc.GenerateRules("ds1", nil, "broken", "")
	assert.True(t, errors.Is(err, ErrExecution))

	var failedCount int64
	tdb.DB.Model(&models.RuleGenerationMetric{}).Where("engine = ? AND success = ?", "broken", false).Count(&failedCount)
	assert.Equal(t, int64(1), failedCount)

	var metaMetric models.RuleGenerationMetric
	require.NoError(t, tdb.DB.First(&metaMetric, "engine = ?", "llm").Error)
	assert.Equal(t, "gpt", metaMetric.Meta["model_type"])
}

func TestApplyRulesPublishesValidationResult(t *testing.T) {
	svc, tdb := newTestService(t)
	factory := testutil.NewTestDataFactory(tdb.DB)
	factory.CreateQualityRule("ds1", testutil.WithCondition(`row["v"] != nil`))

	notifier := &stubNotifier{}
	svc.SetNotifier(notifier)

	_, err := svc.ApplyRulesToDataset("ds1", []map[string]interface{}{{"v": 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ds1"}, notifier.published)

	// 通知失败不影响主流程
	notifier.err = fmt.Errorf("broker down")
	_, err = svc.ValidateDataWithRules("ds1", []map[string]interface{}{{"v": 1}}, ValidateOptions{})
	require.NoError(t, err)
	assert.Len(t, notifier.published, 2)
}
