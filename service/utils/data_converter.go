/**
 * @module data_converter
 * @description 数据转换工具模块，负责入站记录的类型归一化与字符编码转换
 * @architecture 工具函数模式，提供无状态转换方法集合
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 无状态转换：输入 -> 转换逻辑 -> 输出
 * @rules
 *   - 转换操作需要处理异常情况
 *   - 编码转换需要支持GBK字符集
 *   - 归一化不修改原始记录
 * @dependencies
 *   - github.com/spf13/cast: 类型转换
 *   - golang.org/x/text: 编码转换
 * @refs
 *   - service/rule_engine/*: 规则引擎
 */

package utils

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// DataConverter 数据转换器
type DataConverter struct{}

// NewDataConverter 创建新的数据转换器实例
func NewDataConverter() *DataConverter {
	return &DataConverter{}
}

// ToString 转换为字符串
func (dc *DataConverter) ToString(value interface{}) string {
	if value == nil {
		return ""
	}
	if t, ok := value.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	if s, err := cast.ToStringE(value); err == nil {
		return s
	}
	if data, err := json.Marshal(value); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", value)
}

// ToFloat 转换为浮点数
func (dc *DataConverter) ToFloat(value interface{}) (float64, error) {
	if value == nil {
		return 0, fmt.Errorf("nil值无法转换为数值")
	}
	return cast.ToFloat64E(value)
}

// ToBool 转换为布尔值
func (dc *DataConverter) ToBool(value interface{}) (bool, error) {
	if value == nil {
		return false, fmt.Errorf("nil值无法转换为布尔值")
	}
	return cast.ToBoolE(value)
}

// DecodeGBK GBK字节序列转UTF-8字符串
func (dc *DataConverter) DecodeGBK(data []byte) (string, error) {
	decoder := simplifiedchinese.GBK.NewDecoder()
	result, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", fmt.Errorf("GBK解码失败: %w", err)
	}
	return string(result), nil
}

// NormalizeValue 单个值的归一化
// 字节序列转为UTF-8字符串（非法UTF-8按GBK解码），json.Number转为float64，时间统一为RFC3339字符串
func (dc *DataConverter) NormalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		if utf8.Valid(v) {
			return string(v)
		}
		if decoded, err := dc.DecodeGBK(v); err == nil {
			return decoded
		}
		return string(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return value
	}
}

// NormalizeRecord 记录归一化，返回新记录不修改输入
func (dc *DataConverter) NormalizeRecord(record map[string]interface{}) map[string]interface{} {
	normalized := make(map[string]interface{}, len(record))
	for key, value := range record {
		normalized[key] = dc.NormalizeValue(value)
	}
	return normalized
}

// NormalizeRecords 批量记录归一化
func (dc *DataConverter) NormalizeRecords(records []map[string]interface{}) []map[string]interface{} {
	normalized := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		normalized = append(normalized, dc.NormalizeRecord(record))
	}
	return normalized
}

// ParseTime 按多种格式尝试解析时间字符串
func (dc *DataConverter) ParseTime(timeStr string, layouts []string) (time.Time, error) {
	if len(layouts) == 0 {
		layouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, timeStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间字符串: %s", timeStr)
}
