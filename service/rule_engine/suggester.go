/*
 * @module service/rule_engine/suggester
 * @description 规则建议生成器，对数据样本做三轮统计分析（列统计、跨列关系、字符串模式），产出带置信度的候选规则
 * @architecture 分层架构 - 业务服务层，纯函数式分析器按列组合
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 样本采集 -> 列分析 -> 关系分析 -> 模式分析 -> 置信度过滤 -> 排序截断
 * @rules 低于置信度下限的建议在产生时立即丢弃不进入累积；输出按置信度降序且数量有界；生成过程无副作用
 * @dependencies github.com/google/uuid, github.com/spf13/cast
 * @refs service/rule_engine/column_stats.go, service/rule_engine/pipeline.go
 */

package rule_engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"ruleengine-service/service/models"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// 建议生成默认参数
const (
	DefaultMinConfidence  = 0.6
	DefaultMaxSuggestions = 20
)

// patternCatalogueEntry 固定模式目录中的一项
type patternCatalogueEntry struct {
	name    string
	label   string
	pattern string
	re      *regexp.Regexp
}

// patternCatalogue 模式规则使用的固定正则目录
var patternCatalogue = []patternCatalogueEntry{
	{
		name:    "zip_code",
		label:   "邮政编码",
		pattern: `^\d{5}(-\d{4})?$`,
		re:      regexp.MustCompile(`^\d{5}(-\d{4})?$`),
	},
	{
		name:    "phone_number",
		label:   "电话号码",
		pattern: `^\+?[0-9][0-9\-\s()]{6,18}[0-9]$`,
		re:      regexp.MustCompile(`^\+?[0-9][0-9\-\s()]{6,18}[0-9]$`),
	},
	{
		name:    "uuid",
		label:   "UUID",
		pattern: `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
		re:      regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
	},
	{
		name:    "iso_date",
		label:   "ISO日期",
		pattern: `^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?)?`,
		re:      regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?)?`),
	},
}

// 列规则使用的格式正则
var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	urlRegex   = regexp.MustCompile(`^https?://[^\s]+$`)
)

const (
	emailPattern = `^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`
	urlPattern   = `^https?://[^\s]+$`
)

// Suggester 规则建议生成器
type Suggester struct{}

// NewSuggester 创建建议生成器
func NewSuggester() *Suggester {
	return &Suggester{}
}

// SuggestRules 从数据样本推断候选规则
// minConfidence和maxSuggestions为0时取默认值；空样本返回Empty结果不报错
func (s *Suggester) SuggestRules(datasetID string, sample []map[string]interface{}, minConfidence float64, maxSuggestions int) *models.SuggestionResult {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if maxSuggestions <= 0 {
		maxSuggestions = DefaultMaxSuggestions
	}

	result := &models.SuggestionResult{
		DatasetID:   datasetID,
		Suggestions: make([]models.RuleSuggestion, 0),
	}
	if len(sample) == 0 {
		result.Empty = true
		return result
	}

	profiles := AnalyzeColumns(sample)

	// 三轮独立分析，输出拼接后统一排序截断
	suggestions := make([]models.RuleSuggestion, 0)
	suggestions = append(suggestions, s.columnRules(datasetID, profiles, minConfidence)...)
	suggestions = append(suggestions, s.relationshipRules(datasetID, profiles, minConfidence)...)
	suggestions = append(suggestions, s.patternRules(datasetID, profiles, minConfidence)...)

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].Name < suggestions[j].Name
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	result.Suggestions = suggestions
	result.Empty = len(suggestions) == 0
	return result
}

// columnRules 第一轮：单列统计规则
func (s *Suggester) columnRules(datasetID string, profiles []ColumnProfile, minConfidence float64) []models.RuleSuggestion {
	out := make([]models.RuleSuggestion, 0)
	emit := func(suggestion *models.RuleSuggestion) {
		// 置信度比较发生在累积之前
		if suggestion != nil && suggestion.Confidence >= minConfidence {
			out = append(out, *suggestion)
		}
	}

	for i := range profiles {
		profile := &profiles[i]

		// 任何空值率低的列都建议非空规则
		if profile.NullRate < 0.1 && profile.TotalCount > 0 {
			emit(s.newSuggestion(datasetID, profile.Name, "not_null",
				fmt.Sprintf("%s 非空检查", profile.Name),
				fmt.Sprintf("列 %s 在样本中的空值率为 %.1f%%，建议要求非空", profile.Name, profile.NullRate*100),
				fmt.Sprintf(`row[%q] != nil && toStr(row[%q]) != ""`, profile.Name, profile.Name),
				fmt.Sprintf("列 %s 不应为空", profile.Name),
				1-profile.NullRate, models.SeverityMedium, []string{"statistical", "completeness"}))
		}

		switch profile.DataType {
		case ColumnTypeNumeric:
			s.numericColumnRules(datasetID, profile, emit)
		case ColumnTypeString:
			s.stringColumnRules(datasetID, profile, emit)
		case ColumnTypeDatetime:
			s.datetimeColumnRules(datasetID, profile, emit)
		}
	}
	return out
}

func (s *Suggester) numericColumnRules(datasetID string, profile *ColumnProfile, emit func(*models.RuleSuggestion)) {
	if len(profile.NonNull) == 0 {
		return
	}

	// 区间规则，边界在观测区间两侧各放宽10%
	margin := (profile.Max - profile.Min) * 0.1
	low := formatNumber(profile.Min - margin)
	high := formatNumber(profile.Max + margin)
	emit(s.newSuggestion(datasetID, profile.Name, "range",
		fmt.Sprintf("%s 取值区间检查", profile.Name),
		fmt.Sprintf("列 %s 的观测区间为 [%s, %s]，建议边界各放宽10%%", profile.Name, formatNumber(profile.Min), formatNumber(profile.Max)),
		fmt.Sprintf(`row[%q] == nil || (toFloat(row[%q]) >= %s && toFloat(row[%q]) <= %s)`,
			profile.Name, profile.Name, low, profile.Name, high),
		fmt.Sprintf("列 %s 的值应位于 [%s, %s] 区间", profile.Name, low, high),
		0.85, models.SeverityMedium, []string{"statistical", "range"}))

	if profile.AllWhole {
		emit(s.newSuggestion(datasetID, profile.Name, "integer_only",
			fmt.Sprintf("%s 整数检查", profile.Name),
			fmt.Sprintf("列 %s 的全部样本值均为整数", profile.Name),
			fmt.Sprintf(`row[%q] == nil || (isNumber(row[%q]) && isWhole(row[%q]))`, profile.Name, profile.Name, profile.Name),
			fmt.Sprintf("列 %s 的值应为整数", profile.Name),
			0.9, models.SeverityLow, []string{"statistical", "type"}))
	}

	if profile.Min >= 0 {
		emit(s.newSuggestion(datasetID, profile.Name, "non_negative",
			fmt.Sprintf("%s 非负检查", profile.Name),
			fmt.Sprintf("列 %s 的全部样本值均非负", profile.Name),
			fmt.Sprintf(`row[%q] == nil || toFloat(row[%q]) >= 0`, profile.Name, profile.Name),
			fmt.Sprintf("列 %s 的值不应为负数", profile.Name),
			0.85, models.SeverityMedium, []string{"statistical", "range"}))
	}
}

func (s *Suggester) stringColumnRules(datasetID string, profile *ColumnProfile, emit func(*models.RuleSuggestion)) {
	if len(profile.NonNull) == 0 {
		return
	}

	if profile.EmptyRate < 0.1 {
		emit(s.newSuggestion(datasetID, profile.Name, "not_empty",
			fmt.Sprintf("%s 非空串检查", profile.Name),
			fmt.Sprintf("列 %s 在样本中的空串率为 %.1f%%", profile.Name, profile.EmptyRate*100),
			fmt.Sprintf(`strings.TrimSpace(toStr(row[%q])) != ""`, profile.Name),
			fmt.Sprintf("列 %s 不应为空字符串", profile.Name),
			1-profile.EmptyRate, models.SeverityMedium, []string{"statistical", "completeness"}))
	}

	if profile.MaxLength > 0 {
		// 长度上限取观测最大长度的120%
		limit := profile.MaxLength * 12 / 10
		if limit == profile.MaxLength {
			limit++
		}
		emit(s.newSuggestion(datasetID, profile.Name, "max_length",
			fmt.Sprintf("%s 长度上限检查", profile.Name),
			fmt.Sprintf("列 %s 的观测最大长度为 %d", profile.Name, profile.MaxLength),
			fmt.Sprintf(`len(toStr(row[%q])) <= %d`, profile.Name, limit),
			fmt.Sprintf("列 %s 的长度不应超过 %d", profile.Name, limit),
			0.8, models.SeverityLow, []string{"statistical", "length"}))
	}

	// 邮箱/URL格式规则，匹配率必须严格大于0.8
	if rate := matchRate(profile, emailRegex); rate > 0.8 {
		emit(s.newSuggestion(datasetID, profile.Name, "email_format",
			fmt.Sprintf("%s 邮箱格式检查", profile.Name),
			fmt.Sprintf("列 %s 的样本值 %.1f%% 符合邮箱格式", profile.Name, rate*100),
			fmt.Sprintf("row[%q] == nil || matches(`%s`, row[%q])", profile.Name, emailPattern, profile.Name),
			fmt.Sprintf("列 %s 的值应为合法邮箱地址", profile.Name),
			rate, models.SeverityMedium, []string{"statistical", "format"}))
	}
	if rate := matchRate(profile, urlRegex); rate > 0.8 {
		emit(s.newSuggestion(datasetID, profile.Name, "url_format",
			fmt.Sprintf("%s URL格式检查", profile.Name),
			fmt.Sprintf("列 %s 的样本值 %.1f%% 符合URL格式", profile.Name, rate*100),
			fmt.Sprintf("row[%q] == nil || matches(`%s`, row[%q])", profile.Name, urlPattern, profile.Name),
			fmt.Sprintf("列 %s 的值应为合法URL", profile.Name),
			rate, models.SeverityMedium, []string{"statistical", "format"}))
	}

	// 小枚举列建议取值集合规则
	if profile.UniqueCount <= 10 && len(profile.NonNull) >= 5 {
		quoted := make([]string, 0, len(profile.UniqueValues))
		for _, v := range profile.UniqueValues {
			quoted = append(quoted, strconv.Quote(v))
		}
		emit(s.newSuggestion(datasetID, profile.Name, "allowed_values",
			fmt.Sprintf("%s 取值集合检查", profile.Name),
			fmt.Sprintf("列 %s 在样本中仅出现 %d 种取值", profile.Name, profile.UniqueCount),
			fmt.Sprintf(`row[%q] == nil || oneOf(row[%q], %s)`, profile.Name, profile.Name, strings.Join(quoted, ", ")),
			fmt.Sprintf("列 %s 的值应属于集合 {%s}", profile.Name, strings.Join(profile.UniqueValues, ", ")),
			0.85, models.SeverityMedium, []string{"statistical", "enumeration"}))
	}
}

func (s *Suggester) datetimeColumnRules(datasetID string, profile *ColumnProfile, emit func(*models.RuleSuggestion)) {
	if len(profile.NonNull) == 0 {
		return
	}

	if profile.FutureRate < 0.1 {
		emit(s.newSuggestion(datasetID, profile.Name, "not_in_future",
			fmt.Sprintf("%s 非未来时间检查", profile.Name),
			fmt.Sprintf("列 %s 的样本值 %.1f%% 为未来时间", profile.Name, profile.FutureRate*100),
			fmt.Sprintf(`row[%q] == nil || !parseTime(row[%q]).After(time.Now())`, profile.Name, profile.Name),
			fmt.Sprintf("列 %s 的时间不应晚于当前时间", profile.Name),
			1-profile.FutureRate, models.SeverityMedium, []string{"statistical", "temporal"}))
	}

	emit(s.newSuggestion(datasetID, profile.Name, "reasonable_range",
		fmt.Sprintf("%s 时间合理区间检查", profile.Name),
		fmt.Sprintf("列 %s 为时间类型，建议约束在合理年份区间", profile.Name),
		fmt.Sprintf(`row[%q] == nil || (parseTime(row[%q]).Year() >= 1900 && parseTime(row[%q]).Year() <= time.Now().Year()+10)`,
			profile.Name, profile.Name, profile.Name),
		fmt.Sprintf("列 %s 的时间应位于合理区间", profile.Name),
		0.8, models.SeverityLow, []string{"statistical", "temporal"}))
}

// relationshipRules 第二轮：跨列关系规则
func (s *Suggester) relationshipRules(datasetID string, profiles []ColumnProfile, minConfidence float64) []models.RuleSuggestion {
	out := make([]models.RuleSuggestion, 0)
	emit := func(suggestion *models.RuleSuggestion) {
		if suggestion != nil && suggestion.Confidence >= minConfidence {
			out = append(out, *suggestion)
		}
	}

	// 数值列两两计算皮尔逊相关
	numeric := make([]*ColumnProfile, 0)
	for i := range profiles {
		if profiles[i].DataType == ColumnTypeNumeric {
			numeric = append(numeric, &profiles[i])
		}
	}
	for i := 0; i < len(numeric); i++ {
		for j := i + 1; j < len(numeric); j++ {
			corr := PearsonCorrelation(numeric[i], numeric[j])
			if corr <= 0.9 {
				continue
			}
			confidence := corr
			if confidence > 0.95 {
				confidence = 0.95
			}
			emit(s.newSuggestion(datasetID, numeric[i].Name, "correlation",
				fmt.Sprintf("%s 与 %s 相关性保持检查", numeric[i].Name, numeric[j].Name),
				fmt.Sprintf("列 %s 与 %s 的皮尔逊相关系数为 %.3f", numeric[i].Name, numeric[j].Name, corr),
				fmt.Sprintf(`pearson(records, %q, %q) >= 0.9`, numeric[i].Name, numeric[j].Name),
				fmt.Sprintf("列 %s 与 %s 应保持强相关", numeric[i].Name, numeric[j].Name),
				confidence, models.SeverityLow, []string{"statistical", "relationship"}))
		}
	}

	// 全唯一列与 *_id 形式列的包含关系建议外键规则
	for i := range profiles {
		parent := &profiles[i]
		if !parent.AllUnique {
			continue
		}
		for j := range profiles {
			child := &profiles[j]
			if i == j || !looksLikeIDColumn(child.Name) {
				continue
			}
			if !ValuesSubset(child, parent) {
				continue
			}
			emit(s.newSuggestion(datasetID, child.Name, "foreign_key",
				fmt.Sprintf("%s 引用 %s 检查", child.Name, parent.Name),
				fmt.Sprintf("列 %s 的全部样本值都出现在唯一列 %s 中", child.Name, parent.Name),
				fmt.Sprintf(`subsetOf(records, %q, %q)`, child.Name, parent.Name),
				fmt.Sprintf("列 %s 的值应引用 %s 中的值", child.Name, parent.Name),
				0.9, models.SeverityMedium, []string{"statistical", "relationship"}))
		}
	}
	return out
}

// patternRules 第三轮：固定目录的字符串模式规则
func (s *Suggester) patternRules(datasetID string, profiles []ColumnProfile, minConfidence float64) []models.RuleSuggestion {
	out := make([]models.RuleSuggestion, 0)
	for i := range profiles {
		profile := &profiles[i]
		if profile.DataType != ColumnTypeString || len(profile.NonNull) < 5 {
			continue
		}

		for _, entry := range patternCatalogue {
			rate := matchRate(profile, entry.re)
			if rate < 0.8 || rate < minConfidence {
				continue
			}
			suggestion := s.newSuggestion(datasetID, profile.Name, "pattern_"+entry.name,
				fmt.Sprintf("%s %s格式检查", profile.Name, entry.label),
				fmt.Sprintf("列 %s 的样本值 %.1f%% 符合%s格式", profile.Name, rate*100, entry.label),
				fmt.Sprintf("row[%q] == nil || matches(`%s`, row[%q])", profile.Name, entry.pattern, profile.Name),
				fmt.Sprintf("列 %s 的值应符合%s格式", profile.Name, entry.label),
				rate, models.SeverityLow, []string{"statistical", "pattern"})
			out = append(out, *suggestion)
			// 每列最多命中一种目录模式
			break
		}
	}
	return out
}

// newSuggestion 构造一条候选规则，统一盖上新ID、数据集和时间戳
func (s *Suggester) newSuggestion(datasetID, column, kind, name, description, condition, message string, confidence float64, severity string, tags []string) *models.RuleSuggestion {
	now := time.Now()
	return &models.RuleSuggestion{
		ID:             uuid.New().String(),
		Name:           name,
		Description:    description,
		RuleType:       models.RuleTypeValidation,
		Severity:       severity,
		Source:         models.SourceAI,
		Condition:      condition,
		Message:        message,
		DatasetID:      datasetID,
		Confidence:     confidence,
		Tags:           append([]string{kind + ":" + column}, tags...),
		ModelGenerated: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// matchRate 列有效值对正则的匹配率
func matchRate(profile *ColumnProfile, re *regexp.Regexp) float64 {
	if len(profile.NonNull) == 0 {
		return 0
	}
	matched := 0
	for _, v := range profile.NonNull {
		if re.MatchString(cast.ToString(v)) {
			matched++
		}
	}
	return float64(matched) / float64(len(profile.NonNull))
}

// looksLikeIDColumn 列名是否形如外键引用
func looksLikeIDColumn(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_key") || strings.HasSuffix(lower, "_ref")
}

// formatNumber 数值的最短十进制表示
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
