/*
 * @module service/rule_engine/strategies
 * @description 执行策略分发器，按规则来源将条件分发到表达式、期望、模式约束、分类器、转换/丰富等策略执行
 * @architecture 策略模式 - 每种规则来源对应一个执行策略，由纯switch分发
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 规则分发 -> 策略执行 -> 违规收集 -> 结果返回
 * @rules 任一策略执行期的异常被捕获并转为单条数据集级违规，不中断其余规则的执行
 * @dependencies github.com/spf13/cast, encoding/json
 * @refs service/rule_engine/condition_compiler.go, service/models/rule_engine_models.go
 */

package rule_engine

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"ruleengine-service/service/models"

	"github.com/spf13/cast"
)

// DefaultRuleTimeout 单条规则执行超时默认值
const DefaultRuleTimeout = 5 * time.Second

// ruleTimeoutFromEnv 从RULE_EXEC_TIMEOUT读取超时配置，未配置或非法时使用默认值
func ruleTimeoutFromEnv() time.Duration {
	if raw := os.Getenv("RULE_EXEC_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return DefaultRuleTimeout
}

// ClassifierProvider 外部ML分类器提供方的调用契约
// 提供方的输出格式与其他策略一致：成功标志加违规集合
type ClassifierProvider interface {
	Classify(rule *models.QualityRule, records []map[string]interface{}) (*models.RuleExecutionResult, error)
}

// StrategyExecutor 执行策略分发器
type StrategyExecutor struct {
	compiler   *ConditionCompiler
	classifier ClassifierProvider
	timeout    time.Duration
}

// NewStrategyExecutor 创建执行策略分发器
func NewStrategyExecutor(compiler *ConditionCompiler) *StrategyExecutor {
	return &StrategyExecutor{
		compiler: compiler,
		timeout:  ruleTimeoutFromEnv(),
	}
}

// SetClassifier 设置外部分类器提供方
func (e *StrategyExecutor) SetClassifier(provider ClassifierProvider) {
	e.classifier = provider
}

// SetTimeout 设置单条规则执行超时
func (e *StrategyExecutor) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// ExecuteRule 执行单条规则
// 任何策略内部的panic或错误均转为一条数据集级违规
func (e *StrategyExecutor) ExecuteRule(rule *models.QualityRule, records []map[string]interface{}) (result *models.RuleExecutionResult) {
	result = &models.RuleExecutionResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Severity: rule.Severity,
		RuleType: rule.RuleType,
		Source:   rule.Source,
		Success:  true,
	}

	defer func() {
		if r := recover(); r != nil {
			e.failDatasetWide(rule, result, fmt.Sprintf("规则执行panic: %v", r))
		}
	}()

	// 转换和丰富不是通过/失败检查，按规则类型优先分发
	switch rule.RuleType {
	case models.RuleTypeTransformation:
		e.executeTransformation(rule, records, result)
		return result
	case models.RuleTypeEnrichment:
		e.executeEnrichment(rule, records, result)
		return result
	}

	switch rule.Source {
	case models.SourceExpectation:
		e.executeExpectation(rule, records, result)
	case models.SourceSchema:
		e.executeSchema(rule, records, result)
	case models.SourceClassifier:
		e.executeClassifier(rule, records, result)
	default:
		// expression/manual/ai以及未知来源回落到表达式策略
		e.executeExpression(rule, records, result)
	}
	return result
}

// executeExpression 表达式策略
// 数据集级条件整体求值一次，行级条件逐行求值构成布尔序列
func (e *StrategyExecutor) executeExpression(rule *models.QualityRule, records []map[string]interface{}, result *models.RuleExecutionResult) {
	compiled, err := e.compiler.Compile(rule.Condition)
	if err != nil {
		e.failDatasetWide(rule, result, err.Error())
		return
	}

	if compiled.DatasetScoped() {
		out, err := compiled.EvalDataset(records, e.timeout)
		if err != nil {
			e.failDatasetWide(rule, result, err.Error())
			return
		}
		switch v := out.(type) {
		case bool:
			if !v {
				e.failDatasetWide(rule, result, e.violationMessage(rule, "数据集级条件不满足"))
			}
		case []bool:
			for idx, ok := range v {
				if !ok {
					e.addRowViolation(rule, result, idx, records)
				}
			}
		case []interface{}:
			for idx, item := range v {
				if ok, castErr := cast.ToBoolE(item); castErr != nil || !ok {
					e.addRowViolation(rule, result, idx, records)
				}
			}
		default:
			e.failDatasetWide(rule, result, fmt.Sprintf("条件返回了不支持的类型 %T", out))
		}
		return
	}

	for idx, row := range records {
		out, err := compiled.EvalRow(row, e.timeout)
		if err != nil {
			e.failDatasetWide(rule, result, err.Error())
			return
		}
		ok, castErr := cast.ToBoolE(out)
		if castErr != nil {
			e.failDatasetWide(rule, result, fmt.Sprintf("条件对第%d行返回了非布尔值 %T", idx, out))
			return
		}
		if !ok {
			e.addRowViolation(rule, result, idx, records)
		}
	}
}

// expectationPattern 期望条件的调用形式: 名称(列名[, 参数...])
var expectationPattern = regexp.MustCompile(`^\s*(\w+)\s*\((.*)\)\s*$`)

// executeExpectation 期望策略，条件按声明式期望词汇解释
func (e *StrategyExecutor) executeExpectation(rule *models.QualityRule, records []map[string]interface{}, result *models.RuleExecutionResult) {
	m := expectationPattern.FindStringSubmatch(rule.Condition)
	if m == nil {
		e.failDatasetWide(rule, result, fmt.Sprintf("期望条件格式非法: %s", rule.Condition))
		return
	}
	name := m[1]
	args := splitExpectationArgs(m[2])
	if len(args) == 0 {
		e.failDatasetWide(rule, result, "期望条件缺少列名参数")
		return
	}
	column := args[0]

	var failing []int
	var expectMsg string

	switch name {
	case "values_not_null":
		for idx, row := range records {
			if v, ok := row[column]; !ok || v == nil || strings.TrimSpace(cast.ToString(v)) == "" {
				failing = append(failing, idx)
			}
		}
		expectMsg = fmt.Sprintf("期望列 %s 的值非空", column)
	case "values_unique":
		seen := make(map[string]int)
		for idx, row := range records {
			v, ok := row[column]
			if !ok || v == nil {
				continue
			}
			key := cast.ToString(v)
			if _, dup := seen[key]; dup {
				failing = append(failing, idx)
			} else {
				seen[key] = idx
			}
		}
		expectMsg = fmt.Sprintf("期望列 %s 的值唯一", column)
	case "values_between":
		if len(args) < 3 {
			e.failDatasetWide(rule, result, "values_between 需要下界和上界参数")
			return
		}
		low, err1 := cast.ToFloat64E(args[1])
		high, err2 := cast.ToFloat64E(args[2])
		if err1 != nil || err2 != nil {
			e.failDatasetWide(rule, result, "values_between 的边界参数必须是数值")
			return
		}
		for idx, row := range records {
			v, ok := row[column]
			if !ok || v == nil {
				continue
			}
			f, err := cast.ToFloat64E(v)
			if err != nil || f < low || f > high {
				failing = append(failing, idx)
			}
		}
		expectMsg = fmt.Sprintf("期望列 %s 的值位于 [%v, %v] 区间", column, args[1], args[2])
	case "values_in_set":
		allowed := make(map[string]bool, len(args)-1)
		for _, a := range args[1:] {
			allowed[a] = true
		}
		for idx, row := range records {
			v, ok := row[column]
			if !ok || v == nil {
				continue
			}
			if !allowed[cast.ToString(v)] {
				failing = append(failing, idx)
			}
		}
		expectMsg = fmt.Sprintf("期望列 %s 的值属于集合 {%s}", column, strings.Join(args[1:], ", "))
	case "values_match_regex":
		if len(args) < 2 {
			e.failDatasetWide(rule, result, "values_match_regex 需要正则参数")
			return
		}
		// 正则内可能含逗号，取列名之后的全部内容
		pattern := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m[2]), column))
		pattern = strings.TrimSpace(strings.TrimPrefix(pattern, ","))
		pattern = strings.Trim(pattern, `"'`)
		re, err := regexp.Compile(pattern)
		if err != nil {
			e.failDatasetWide(rule, result, fmt.Sprintf("非法正则: %v", err))
			return
		}
		for idx, row := range records {
			v, ok := row[column]
			if !ok || v == nil {
				continue
			}
			if !re.MatchString(cast.ToString(v)) {
				failing = append(failing, idx)
			}
		}
		expectMsg = fmt.Sprintf("期望列 %s 的值匹配正则 %s", column, pattern)
	case "column_exists":
		for idx, row := range records {
			if _, ok := row[column]; !ok {
				failing = append(failing, idx)
			}
		}
		expectMsg = fmt.Sprintf("期望列 %s 存在", column)
	default:
		e.failDatasetWide(rule, result, fmt.Sprintf("未知的期望类型: %s", name))
		return
	}

	for _, idx := range failing {
		e.addRowViolation(rule, result, idx, records)
	}

	passRate := 1.0
	if len(records) > 0 {
		passRate = float64(len(records)-len(failing)) / float64(len(records))
	}
	result.Message = fmt.Sprintf("%s: 通过率 %.2f%%", expectMsg, passRate*100)
}

// fieldConstraint 模式约束中单个字段的描述
type fieldConstraint struct {
	Type     string      `json:"type,omitempty"`
	Required bool        `json:"required,omitempty"`
	Min      *float64    `json:"min,omitempty"`
	Max      *float64    `json:"max,omitempty"`
	Pattern  string      `json:"pattern,omitempty"`
	Enum     []string    `json:"enum,omitempty"`
	Default  interface{} `json:"default,omitempty"`
}

// executeSchema 模式约束策略，条件描述记录形状，逐条检查
func (e *StrategyExecutor) executeSchema(rule *models.QualityRule, records []map[string]interface{}, result *models.RuleExecutionResult) {
	var schema map[string]fieldConstraint
	if err := json.Unmarshal([]byte(rule.Condition), &schema); err != nil {
		e.failDatasetWide(rule, result, fmt.Sprintf("模式约束解析失败: %v", err))
		return
	}

	for idx, row := range records {
		if constraintErr := checkRecordAgainstSchema(row, schema); constraintErr != "" {
			i := idx
			result.FailingRows = append(result.FailingRows, idx)
			if len(result.Violations) < models.MaxSampledViolations {
				result.Violations = append(result.Violations, models.RuleViolation{
					RowIndex: &i,
					Message:  constraintErr,
					Record:   row,
				})
			}
		}
	}

	result.ViolationCount = len(result.FailingRows)
	if result.ViolationCount > 0 {
		result.Success = false
		result.Message = e.violationMessage(rule, fmt.Sprintf("%d条记录不满足模式约束", result.ViolationCount))
	}
}

// checkRecordAgainstSchema 按模式约束检查单条记录，返回第一条约束错误文本
func checkRecordAgainstSchema(row map[string]interface{}, schema map[string]fieldConstraint) string {
	for field, constraint := range schema {
		v, exists := row[field]
		if !exists || v == nil {
			if constraint.Required {
				return fmt.Sprintf("字段 %s 缺失", field)
			}
			continue
		}

		switch constraint.Type {
		case "string":
			if _, ok := v.(string); !ok {
				return fmt.Sprintf("字段 %s 期望字符串类型，实际为 %T", field, v)
			}
		case "number":
			if _, err := cast.ToFloat64E(v); err != nil {
				return fmt.Sprintf("字段 %s 期望数值类型，实际值 %v", field, v)
			}
		case "integer":
			f, err := cast.ToFloat64E(v)
			if err != nil || f != float64(int64(f)) {
				return fmt.Sprintf("字段 %s 期望整数类型，实际值 %v", field, v)
			}
		case "boolean":
			if _, err := cast.ToBoolE(v); err != nil {
				return fmt.Sprintf("字段 %s 期望布尔类型，实际值 %v", field, v)
			}
		}

		if constraint.Min != nil || constraint.Max != nil {
			// 数值比较取值本身，字符串比较取长度
			var f float64
			if s, ok := v.(string); ok {
				f = float64(len(s))
			} else if fv, err := cast.ToFloat64E(v); err == nil {
				f = fv
			}
			if constraint.Min != nil && f < *constraint.Min {
				return fmt.Sprintf("字段 %s 的值 %v 小于下限 %v", field, v, *constraint.Min)
			}
			if constraint.Max != nil && f > *constraint.Max {
				return fmt.Sprintf("字段 %s 的值 %v 大于上限 %v", field, v, *constraint.Max)
			}
		}

		if constraint.Pattern != "" {
			matched, err := regexp.MatchString(constraint.Pattern, cast.ToString(v))
			if err != nil || !matched {
				return fmt.Sprintf("字段 %s 的值 %v 不匹配模式 %s", field, v, constraint.Pattern)
			}
		}

		if len(constraint.Enum) > 0 {
			s := cast.ToString(v)
			found := false
			for _, allowed := range constraint.Enum {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				return fmt.Sprintf("字段 %s 的值 %v 不在枚举范围内", field, v)
			}
		}
	}
	return ""
}

// executeClassifier 分类器策略，委托外部ML分类提供方
func (e *StrategyExecutor) executeClassifier(rule *models.QualityRule, records []map[string]interface{}, result *models.RuleExecutionResult) {
	if e.classifier == nil {
		e.failDatasetWide(rule, result, "未配置分类器提供方")
		return
	}

	providerResult, err := e.classifier.Classify(rule, records)
	if err != nil {
		e.failDatasetWide(rule, result, fmt.Sprintf("分类器调用失败: %v", err))
		return
	}

	result.Success = providerResult.Success
	result.Message = providerResult.Message
	result.Violations = providerResult.Violations
	result.FailingRows = providerResult.FailingRows
	result.ViolationCount = providerResult.ViolationCount
	if result.ViolationCount == 0 {
		result.ViolationCount = len(result.FailingRows)
	}
}

// executeTransformation 转换策略，条件按行产出完整替换记录
func (e *StrategyExecutor) executeTransformation(rule *models.QualityRule, records []map[string]interface{}, result *models.RuleExecutionResult) {
	compiled, err := e.compiler.Compile(rule.Condition)
	if err != nil {
		e.failDatasetWide(rule, result, err.Error())
		return
	}

	processed := make([]map[string]interface{}, 0, len(records))
	errCount := 0
	for idx, row := range records {
		out, evalErr := compiled.EvalRow(row, e.timeout)
		if evalErr != nil {
			errCount++
			e.addRowViolationMsg(rule, result, idx, records, fmt.Sprintf("转换失败: %v", evalErr))
			processed = append(processed, row)
			continue
		}
		replacement, ok := out.(map[string]interface{})
		if !ok {
			errCount++
			e.addRowViolationMsg(rule, result, idx, records, fmt.Sprintf("转换结果期望记录类型，实际为 %T", out))
			processed = append(processed, row)
			continue
		}
		processed = append(processed, replacement)
	}

	result.ProcessedRecords = processed
	result.Success = errCount == 0
	if errCount > 0 {
		result.Message = fmt.Sprintf("%d条记录转换失败", errCount)
	}
}

// executeEnrichment 丰富策略，条件按行产出单个新字段值，写入action指定的目标字段
func (e *StrategyExecutor) executeEnrichment(rule *models.QualityRule, records []map[string]interface{}, result *models.RuleExecutionResult) {
	targetField := cast.ToString(rule.Action["target_field"])
	if targetField == "" {
		e.failDatasetWide(rule, result, "丰富规则缺少action.target_field配置")
		return
	}

	compiled, err := e.compiler.Compile(rule.Condition)
	if err != nil {
		e.failDatasetWide(rule, result, err.Error())
		return
	}

	processed := make([]map[string]interface{}, 0, len(records))
	errCount := 0
	for idx, row := range records {
		out, evalErr := compiled.EvalRow(row, e.timeout)
		if evalErr != nil {
			errCount++
			e.addRowViolationMsg(rule, result, idx, records, fmt.Sprintf("丰富失败: %v", evalErr))
			processed = append(processed, row)
			continue
		}
		enriched := make(map[string]interface{}, len(row)+1)
		for k, v := range row {
			enriched[k] = v
		}
		enriched[targetField] = out
		processed = append(processed, enriched)
	}

	result.ProcessedRecords = processed
	result.Success = errCount == 0
	if errCount > 0 {
		result.Message = fmt.Sprintf("%d条记录丰富失败", errCount)
	}
}

// failDatasetWide 将执行失败转为单条数据集级违规
func (e *StrategyExecutor) failDatasetWide(rule *models.QualityRule, result *models.RuleExecutionResult, message string) {
	result.Success = false
	result.Message = message
	result.Violations = append(result.Violations, models.RuleViolation{Message: message})
	result.ViolationCount = len(result.Violations)
}

// addRowViolation 追加一条行级违规，样本截断但完整行号保留
func (e *StrategyExecutor) addRowViolation(rule *models.QualityRule, result *models.RuleExecutionResult, idx int, records []map[string]interface{}) {
	e.addRowViolationMsg(rule, result, idx, records, e.violationMessage(rule, fmt.Sprintf("第%d行不满足条件", idx)))
}

func (e *StrategyExecutor) addRowViolationMsg(rule *models.QualityRule, result *models.RuleExecutionResult, idx int, records []map[string]interface{}, message string) {
	result.Success = false
	result.FailingRows = append(result.FailingRows, idx)
	if len(result.Violations) < models.MaxSampledViolations {
		i := idx
		var record map[string]interface{}
		if idx >= 0 && idx < len(records) {
			record = records[idx]
		}
		result.Violations = append(result.Violations, models.RuleViolation{
			RowIndex: &i,
			Message:  message,
			Record:   record,
		})
	}
	result.ViolationCount = len(result.FailingRows)
	result.Message = e.violationMessage(rule, fmt.Sprintf("%d条记录不满足条件", result.ViolationCount))
}

// violationMessage 优先使用规则自带的提示消息
func (e *StrategyExecutor) violationMessage(rule *models.QualityRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

// splitExpectationArgs 拆分期望条件参数，去除引号
func splitExpectationArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		args = append(args, strings.Trim(strings.TrimSpace(p), `"'`))
	}
	return args
}
