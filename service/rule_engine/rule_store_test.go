/*
 * @module service/rule_engine/rule_store_test
 * @description 规则存储单元测试，覆盖CRUD、批量创建、JSON导入与缓存一致性
 * @architecture 测试层 - 基于内存SQLite的集成测试
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 测试数据库初始化 -> 规则操作 -> 缓存与持久化断言
 * @rules 写后读必须反映最新状态，缓存不得返回陈旧规则
 * @dependencies testing, testify, sqlite
 * @refs rule_store.go
 */

package rule_engine

import (
	"errors"
	"testing"
	"time"

	"ruleengine-service/service/models"
	"ruleengine-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RuleStore, *testutil.TestDB) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return NewRuleStore(tdb.DB, NewConditionCompiler()), tdb
}

func TestCreateRuleValidation(t *testing.T) {
	store, _ := newTestStore(t)

	testCases := []struct {
		name string
		rule models.QualityRule
	}{
		{
			name: "缺少名称",
			rule: models.QualityRule{DatasetID: "ds1", Source: models.SourceExpression, Condition: "true", Confidence: 1},
		},
		{
			name: "缺少数据集",
			rule: models.QualityRule{Name: "r", Source: models.SourceExpression, Condition: "true", Confidence: 1},
		},
		{
			name: "非法规则类型",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", RuleType: "magic", Source: models.SourceExpression, Condition: "true", Confidence: 1},
		},
		{
			name: "非法严重级别",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Severity: "fatal", Source: models.SourceExpression, Condition: "true", Confidence: 1},
		},
		{
			name: "非法来源",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Source: "telepathy", Condition: "true", Confidence: 1},
		},
		{
			name: "置信度越界",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Source: models.SourceExpression, Condition: "true", Confidence: 1.5},
		},
		{
			name: "条件编译失败",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Source: models.SourceExpression, Condition: `row["a" >`, Confidence: 1},
		},
		{
			name: "危险条件",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Source: models.SourceExpression, Condition: `os.Getenv("X") != ""`, Confidence: 1},
		},
		{
			name: "期望格式非法",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Source: models.SourceExpectation, Condition: "not a call", Confidence: 1},
		},
		{
			name: "模式约束非JSON",
			rule: models.QualityRule{Name: "r", DatasetID: "ds1", Source: models.SourceSchema, Condition: "{broken", Confidence: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.CreateRule(&tc.rule)
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}

	var count int64
	store.db.Model(&models.QualityRule{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCreateRuleAcceptsNonExpressionSources(t *testing.T) {
	store, _ := newTestStore(t)

	rules := []models.QualityRule{
		{Name: "期望规则", DatasetID: "ds1", Source: models.SourceExpectation, Condition: "values_not_null(name)", Confidence: 1},
		{Name: "模式规则", DatasetID: "ds1", Source: models.SourceSchema, Condition: `{"name": {"required": true}}`, Confidence: 1},
		{Name: "分类规则", DatasetID: "ds1", Source: models.SourceClassifier, Condition: "sentiment", Confidence: 1},
		{Name: "表达式规则", DatasetID: "ds1", Source: models.SourceExpression, Condition: `row["a"] != nil`, Confidence: 1},
	}

	for i := range rules {
		require.NoError(t, store.CreateRule(&rules[i]))
		assert.NotEmpty(t, rules[i].ID)
	}
}

func TestCreateRulesBatchIsolatesFailures(t *testing.T) {
	store, _ := newTestStore(t)

	rules := []models.QualityRule{
		{Name: "合法1", DatasetID: "ds1", Source: models.SourceExpression, Condition: "true", Confidence: 1},
		{Name: "", DatasetID: "ds1", Source: models.SourceExpression, Condition: "true", Confidence: 1},
		{Name: "合法2", DatasetID: "ds1", Source: models.SourceExpression, Condition: "false", Confidence: 1},
		{Name: "坏条件", DatasetID: "ds1", Source: models.SourceExpression, Condition: `os.Exit(1)`, Confidence: 1},
	}

	result := store.CreateRulesBatch(rules)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalCreated)
	assert.Equal(t, 2, result.TotalFailed)
	assert.Equal(t, len(rules), result.TotalCreated+result.TotalFailed)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.Equal(t, 3, result.Failed[1].Index)
}

func TestCreateRulesBatchAllFailed(t *testing.T) {
	store, _ := newTestStore(t)

	result := store.CreateRulesBatch([]models.QualityRule{
		{Name: "", DatasetID: "ds1", Source: models.SourceExpression, Condition: "true"},
	})

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.TotalCreated)
	assert.Equal(t, 1, result.TotalFailed)
}

func TestImportRules(t *testing.T) {
	store, _ := newTestStore(t)

	rulesJSON := []byte(`[
		{"name": "年龄范围", "rule_type": "validation", "severity": "high", "source": "expression", "condition": "toFloat(row[\"age\"]) >= 0", "confidence": 0.9},
		{"name": "", "source": "expression", "condition": "true"},
		{"name": "状态枚举", "source": "expectation", "condition": "values_in_set(status, active, inactive)", "tags": ["imported"]}
	]`)

	result, err := store.ImportRules("ds1", rulesJSON)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalCreated)
	assert.Equal(t, 1, result.TotalFailed)

	// 导入的规则归属目标数据集
	for _, rule := range result.Created {
		assert.Equal(t, "ds1", rule.DatasetID)
	}
	assert.Equal(t, 0.9, result.Created[0].Confidence)
	// 未声明置信度时默认1.0
	assert.Equal(t, 1.0, result.Created[1].Confidence)

	_, err = store.ImportRules("ds1", []byte(`{"not": "an array"}`))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestGetRuleNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetRule("missing-id")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListActiveRulesOrderingAndFiltering(t *testing.T) {
	store, tdb := newTestStore(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateQualityRule("ds1", testutil.WithExecutionOrder(2))
	first := factory.CreateQualityRule("ds1", testutil.WithExecutionOrder(1))
	factory.CreateQualityRule("ds1", testutil.WithEnabled(false))
	factory.CreateQualityRule("ds2")

	rules, err := store.ListActiveRules("ds1")
	require.NoError(t, err)

	require.Len(t, rules, 2)
	assert.Equal(t, first.ID, rules[0].ID)
	for _, rule := range rules {
		assert.True(t, rule.IsEnabled)
		assert.Equal(t, "ds1", rule.DatasetID)
	}
}

func TestListActiveRulesCacheInvalidation(t *testing.T) {
	store, tdb := newTestStore(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateQualityRule("ds1", testutil.WithCondition(`row["v"] != nil`))

	// 第一次读取回填缓存
	rules, err := store.ListActiveRules("ds1")
	require.NoError(t, err)
	require.Len(t, rules, 1)

	// 直接改库不经过存储层，缓存仍返回旧值
	tdb.DB.Model(&models.QualityRule{}).Where("id = ?", rule.ID).Update("name", "绕过存储层改名")
	cached, err := store.ListActiveRules("ds1")
	require.NoError(t, err)
	assert.NotEqual(t, "绕过存储层改名", cached[0].Name)

	// 经过存储层的更新立即可见
	_, err = store.UpdateRule(rule.ID, map[string]interface{}{"name": "新名称"})
	require.NoError(t, err)

	fresh, err := store.ListActiveRules("ds1")
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "新名称", fresh[0].Name)
}

func TestListActiveRulesCacheExpiry(t *testing.T) {
	store, tdb := newTestStore(t)
	store.SetCacheTTL(10 * time.Millisecond)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateQualityRule("ds1")
	_, err := store.ListActiveRules("ds1")
	require.NoError(t, err)

	factory.CreateQualityRule("ds1")
	time.Sleep(20 * time.Millisecond)

	rules, err := store.ListActiveRules("ds1")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestUpdateRuleConditionRevalidation(t *testing.T) {
	store, tdb := newTestStore(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateQualityRule("ds1")

	_, err := store.UpdateRule(rule.ID, map[string]interface{}{"condition": `row["a" >`})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = store.UpdateRule(rule.ID, map[string]interface{}{"severity": "fatal"})
	assert.True(t, errors.Is(err, ErrValidation))

	updated, err := store.UpdateRule(rule.ID, map[string]interface{}{
		"condition": `toFloat(row["age"]) >= 18`,
		"severity":  models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, `toFloat(row["age"]) >= 18`, updated.Condition)
	assert.Equal(t, models.SeverityHigh, updated.Severity)

	_, err = store.UpdateRule("missing-id", map[string]interface{}{"name": "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteRule(t *testing.T) {
	store, tdb := newTestStore(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateQualityRule("ds1")
	_, err := store.ListActiveRules("ds1")
	require.NoError(t, err)

	require.NoError(t, store.DeleteRule(rule.ID))

	rules, err := store.ListActiveRules("ds1")
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.True(t, errors.Is(store.DeleteRule(rule.ID), ErrNotFound))
}

func TestUpdateExecutionStats(t *testing.T) {
	store, tdb := newTestStore(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateQualityRule("ds1")

	store.UpdateExecutionStats(rule.ID, true)
	store.UpdateExecutionStats(rule.ID, true)
	store.UpdateExecutionStats(rule.ID, false)

	updated, err := store.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.ExecutionCount)
	assert.Equal(t, int64(2), updated.SuccessCount)
	assert.InDelta(t, 2.0/3.0, updated.SuccessRate, 1e-9)

	// 不存在的规则不panic，仅记录日志
	store.UpdateExecutionStats("missing-id", true)
}
