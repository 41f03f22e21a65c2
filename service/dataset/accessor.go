/*
 * @module service/dataset/accessor
 * @description 数据集访问器，按数据集标识从数据库表读取有序采样记录，供规则引擎校验与建议生成使用
 * @architecture 分层架构 - 数据访问层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 数据集标识 -> 表名解析 -> 采样查询 -> 记录归一化
 * @rules 数据集标识必须是合法表标识符；采样结果按主键或插入顺序稳定排序
 * @dependencies gorm.io/gorm
 * @refs service/rule_engine/service.go, service/utils/data_converter.go
 */

package dataset

import (
	"fmt"
	"regexp"

	"ruleengine-service/service/utils"

	"gorm.io/gorm"
)

// DefaultSampleLimit 默认采样上限
const DefaultSampleLimit = 100

// 数据集标识只允许表标识符字符，防止拼接注入
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// TableAccessor 基于数据库表的数据集访问器
// 数据集标识即表名（可带schema前缀）
type TableAccessor struct {
	db        *gorm.DB
	converter *utils.DataConverter
}

// NewTableAccessor 创建数据集访问器
func NewTableAccessor(db *gorm.DB) *TableAccessor {
	return &TableAccessor{
		db:        db,
		converter: utils.NewDataConverter(),
	}
}

// GetDatasetSample 读取数据集的有序采样记录
func (a *TableAccessor) GetDatasetSample(datasetID string, limit int) ([]map[string]interface{}, error) {
	if !identifierPattern.MatchString(datasetID) {
		return nil, fmt.Errorf("非法的数据集标识: %s", datasetID)
	}
	if limit <= 0 || limit > DefaultSampleLimit {
		limit = DefaultSampleLimit
	}

	var rows []map[string]interface{}
	if err := a.db.Table(datasetID).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("数据集 %s 采样失败: %w", datasetID, err)
	}

	return a.converter.NormalizeRecords(rows), nil
}
