/*
 * @module service/rule_engine/column_stats
 * @description 列统计分析，从数据样本提取每列的类型推断、空值率、数值区间、字符串长度与唯一性等统计量
 * @architecture 分层架构 - 业务服务层，纯函数无共享状态
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 样本快照 -> 按列切分 -> 类型推断 -> 统计计算
 * @rules 分析过程对输入样本只读；同一样本的分析结果完全可重复
 * @dependencies github.com/spf13/cast
 * @refs service/rule_engine/suggester.go
 */

package rule_engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// 推断出的列粗粒度类型
const (
	ColumnTypeNumeric  = "numeric"
	ColumnTypeString   = "string"
	ColumnTypeDatetime = "datetime"
	ColumnTypeBoolean  = "boolean"
	ColumnTypeUnknown  = "unknown"
)

// ColumnProfile 单列的统计画像
type ColumnProfile struct {
	Name     string
	DataType string

	// Values 与样本行对齐的原始值，缺失字段记为nil
	Values []interface{}
	// NonNull 去除nil与空白后的有效值
	NonNull []interface{}

	TotalCount int
	NullCount  int
	NullRate   float64

	// 数值列统计
	Min      float64
	Max      float64
	Mean     float64
	AllWhole bool

	// 字符串列统计
	EmptyCount   int
	EmptyRate    float64
	MaxLength    int
	UniqueCount  int
	UniqueValues []string
	AllUnique    bool

	// 时间列统计
	FutureCount int
	FutureRate  float64
}

// datetimeLayouts 类型推断尝试的时间格式
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AnalyzeColumns 对样本的全部列做统计分析，列名按字典序排列保证输出稳定
func AnalyzeColumns(records []map[string]interface{}) []ColumnProfile {
	if len(records) == 0 {
		return nil
	}

	names := make(map[string]bool)
	for _, row := range records {
		for name := range row {
			names[name] = true
		}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	profiles := make([]ColumnProfile, 0, len(ordered))
	for _, name := range ordered {
		profiles = append(profiles, analyzeColumn(name, records))
	}
	return profiles
}

// analyzeColumn 分析单列
func analyzeColumn(name string, records []map[string]interface{}) ColumnProfile {
	profile := ColumnProfile{
		Name:       name,
		Values:     make([]interface{}, 0, len(records)),
		TotalCount: len(records),
	}

	for _, row := range records {
		v, ok := row[name]
		if !ok || v == nil || strings.TrimSpace(cast.ToString(v)) == "" {
			profile.Values = append(profile.Values, nil)
			profile.NullCount++
			continue
		}
		profile.Values = append(profile.Values, v)
		profile.NonNull = append(profile.NonNull, v)
	}
	if profile.TotalCount > 0 {
		profile.NullRate = float64(profile.NullCount) / float64(profile.TotalCount)
	}

	profile.DataType = inferColumnType(profile.NonNull)
	switch profile.DataType {
	case ColumnTypeNumeric:
		fillNumericStats(&profile)
	case ColumnTypeString:
		fillStringStats(&profile)
	case ColumnTypeDatetime:
		fillDatetimeStats(&profile)
	}
	fillUniqueness(&profile)
	return profile
}

// inferColumnType 从有效值推断列的粗粒度类型
// 全部可解析为数值判为numeric，全部可解析为时间判为datetime，全部为布尔字面量判为boolean，其余为string
func inferColumnType(values []interface{}) string {
	if len(values) == 0 {
		return ColumnTypeUnknown
	}

	numeric, datetime, boolean := true, true, true
	for _, v := range values {
		s := strings.TrimSpace(cast.ToString(v))
		if numeric {
			if _, err := cast.ToFloat64E(s); err != nil {
				numeric = false
			}
		}
		if boolean {
			switch strings.ToLower(s) {
			case "true", "false":
			default:
				if _, isBool := v.(bool); !isBool {
					boolean = false
				}
			}
		}
		if datetime {
			if _, ok := parseDatetime(s); !ok {
				datetime = false
			}
		}
	}

	// 布尔字面量同样可被数值解析，优先级更高
	if boolean {
		return ColumnTypeBoolean
	}
	if numeric {
		return ColumnTypeNumeric
	}
	if datetime {
		return ColumnTypeDatetime
	}
	return ColumnTypeString
}

// parseDatetime 按支持的格式解析时间
func parseDatetime(s string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fillNumericStats(profile *ColumnProfile) {
	if len(profile.NonNull) == 0 {
		return
	}

	profile.Min = math.Inf(1)
	profile.Max = math.Inf(-1)
	profile.AllWhole = true
	sum := 0.0
	for _, v := range profile.NonNull {
		f := cast.ToFloat64(v)
		if f < profile.Min {
			profile.Min = f
		}
		if f > profile.Max {
			profile.Max = f
		}
		if f != math.Trunc(f) {
			profile.AllWhole = false
		}
		sum += f
	}
	profile.Mean = sum / float64(len(profile.NonNull))
}

func fillStringStats(profile *ColumnProfile) {
	for _, v := range profile.NonNull {
		if l := len(cast.ToString(v)); l > profile.MaxLength {
			profile.MaxLength = l
		}
	}
	// 空白字符串在列切分时已计入空值
	profile.EmptyCount = profile.NullCount
	profile.EmptyRate = profile.NullRate
}

func fillDatetimeStats(profile *ColumnProfile) {
	now := time.Now()
	for _, v := range profile.NonNull {
		if t, ok := parseDatetime(strings.TrimSpace(cast.ToString(v))); ok && t.After(now) {
			profile.FutureCount++
		}
	}
	if len(profile.NonNull) > 0 {
		profile.FutureRate = float64(profile.FutureCount) / float64(len(profile.NonNull))
	}
}

func fillUniqueness(profile *ColumnProfile) {
	seen := make(map[string]bool, len(profile.NonNull))
	duplicated := false
	for _, v := range profile.NonNull {
		key := cast.ToString(v)
		if seen[key] {
			duplicated = true
			continue
		}
		seen[key] = true
	}

	profile.UniqueCount = len(seen)
	profile.AllUnique = !duplicated && len(profile.NonNull) > 0

	unique := make([]string, 0, len(seen))
	for key := range seen {
		unique = append(unique, key)
	}
	sort.Strings(unique)
	profile.UniqueValues = unique
}

// PearsonCorrelation 两个数值列的皮尔逊相关系数，成对剔除空值
func PearsonCorrelation(a, b *ColumnProfile) float64 {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}

	var xs, ys []float64
	for i := 0; i < n; i++ {
		va, vb := a.Values[i], b.Values[i]
		if va == nil || vb == nil {
			continue
		}
		fa, errA := cast.ToFloat64E(va)
		fb, errB := cast.ToFloat64E(vb)
		if errA != nil || errB != nil {
			continue
		}
		xs = append(xs, fa)
		ys = append(ys, fb)
	}

	count := float64(len(xs))
	if count < 2 {
		return 0
	}

	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/count, sumY/count

	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// ValuesSubset child列的全部有效值是否都出现在parent列中
func ValuesSubset(child, parent *ColumnProfile) bool {
	if len(child.NonNull) == 0 {
		return false
	}
	parents := make(map[string]bool, len(parent.NonNull))
	for _, v := range parent.NonNull {
		parents[cast.ToString(v)] = true
	}
	for _, v := range child.NonNull {
		if !parents[cast.ToString(v)] {
			return false
		}
	}
	return true
}
