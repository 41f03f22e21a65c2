/*
 * @module service/rule_engine/rule_store
 * @description 规则存储，提供规则CRUD、批量创建、JSON导入和按数据集维度的带TTL缓存
 * @architecture 分层架构 - 业务服务层，仓储模式加进程内缓存
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 规则写入 -> 条件校验 -> 持久化 -> 缓存失效；规则读取 -> 缓存命中或查库回填
 * @rules 任何写操作在返回前使对应数据集的缓存条目失效；缓存条目整体替换不做原地修改
 * @dependencies gorm.io/gorm
 * @refs service/models/rule.go, service/rule_engine/condition_compiler.go
 */

package rule_engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ruleengine-service/service/models"

	"gorm.io/gorm"
)

// DefaultCacheTTL 数据集规则缓存默认存活时间
const DefaultCacheTTL = 5 * time.Minute

// ruleCacheEntry 单个数据集的缓存条目，整体替换
type ruleCacheEntry struct {
	rules     []models.QualityRule
	expiresAt time.Time
}

// RuleStore 规则存储
type RuleStore struct {
	db       *gorm.DB
	compiler *ConditionCompiler
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*ruleCacheEntry
}

// NewRuleStore 创建规则存储实例
func NewRuleStore(db *gorm.DB, compiler *ConditionCompiler) *RuleStore {
	return &RuleStore{
		db:       db,
		compiler: compiler,
		cacheTTL: DefaultCacheTTL,
		cache:    make(map[string]*ruleCacheEntry),
	}
}

// SetCacheTTL 设置缓存存活时间
func (s *RuleStore) SetCacheTTL(ttl time.Duration) {
	s.cacheTTL = ttl
}

// validateRule 持久化前的规则结构与条件校验
func (s *RuleStore) validateRule(rule *models.QualityRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: 规则名称不能为空", ErrValidation)
	}
	if rule.DatasetID == "" {
		return fmt.Errorf("%w: 规则必须归属数据集", ErrValidation)
	}
	if rule.RuleType != "" && !models.IsValidRuleType(rule.RuleType) {
		return fmt.Errorf("%w: 非法的规则类型 %s", ErrValidation, rule.RuleType)
	}
	if rule.Severity != "" && !models.IsValidSeverity(rule.Severity) {
		return fmt.Errorf("%w: 非法的严重级别 %s", ErrValidation, rule.Severity)
	}
	if !models.IsValidSource(rule.Source) {
		return fmt.Errorf("%w: 非法的规则来源 %s", ErrValidation, rule.Source)
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return fmt.Errorf("%w: 置信度必须位于[0,1]", ErrValidation)
	}

	// 期望、模式约束和分类器条件不经过表达式编译器
	switch rule.Source {
	case models.SourceExpectation:
		if expectationPattern.FindStringSubmatch(rule.Condition) == nil {
			return fmt.Errorf("%w: 期望条件格式非法", ErrValidation)
		}
	case models.SourceSchema:
		var schema map[string]fieldConstraint
		if err := json.Unmarshal([]byte(rule.Condition), &schema); err != nil {
			return fmt.Errorf("%w: 模式约束不是合法JSON: %v", ErrValidation, err)
		}
	case models.SourceClassifier:
		if rule.Condition == "" {
			return fmt.Errorf("%w: 条件不能为空", ErrValidation)
		}
	default:
		if err := s.compiler.Validate(rule.Condition); err != nil {
			return err
		}
	}
	return nil
}

// CreateRule 创建规则，条件校验通过后持久化并使数据集缓存失效
func (s *RuleStore) CreateRule(rule *models.QualityRule) error {
	if err := s.validateRule(rule); err != nil {
		return err
	}

	if err := s.db.Create(rule).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}

	s.InvalidateCache(rule.DatasetID)
	return nil
}

// CreateRulesBatch 批量创建规则，逐条隔离失败
// 整体成功当且仅当至少创建一条
func (s *RuleStore) CreateRulesBatch(rules []models.QualityRule) *models.BatchCreateResult {
	result := &models.BatchCreateResult{
		Created: make([]models.QualityRule, 0, len(rules)),
		Failed:  make([]models.BatchFailedItem, 0),
	}

	for i := range rules {
		rule := rules[i]
		if err := s.CreateRule(&rule); err != nil {
			result.Failed = append(result.Failed, models.BatchFailedItem{
				Index:  i,
				Name:   rule.Name,
				Reason: err.Error(),
			})
			continue
		}
		result.Created = append(result.Created, rule)
	}

	result.TotalCreated = len(result.Created)
	result.TotalFailed = len(result.Failed)
	result.Success = result.TotalCreated > 0
	return result
}

// importRuleItem 导入JSON中单条规则的外部形状
type importRuleItem struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	RuleType       string   `json:"rule_type"`
	Severity       string   `json:"severity"`
	Source         string   `json:"source"`
	Condition      string   `json:"condition"`
	Message        string   `json:"message,omitempty"`
	DatasetID      string   `json:"dataset_id,omitempty"`
	ModelGenerated bool     `json:"model_generated,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// ImportRules 从JSON数组导入规则，逐条隔离失败
func (s *RuleStore) ImportRules(datasetID string, rulesJSON []byte) (*models.BatchCreateResult, error) {
	var items []importRuleItem
	if err := json.Unmarshal(rulesJSON, &items); err != nil {
		return nil, fmt.Errorf("%w: 导入内容不是规则数组: %v", ErrValidation, err)
	}

	rules := make([]models.QualityRule, 0, len(items))
	for _, item := range items {
		confidence := 1.0
		if item.Confidence != nil {
			confidence = *item.Confidence
		}
		rules = append(rules, models.QualityRule{
			ID:             item.ID,
			Name:           item.Name,
			Description:    item.Description,
			RuleType:       item.RuleType,
			Severity:       item.Severity,
			Source:         item.Source,
			Condition:      item.Condition,
			Message:        item.Message,
			DatasetID:      datasetID,
			ModelGenerated: item.ModelGenerated,
			Confidence:     confidence,
			Tags:           item.Tags,
		})
	}

	return s.CreateRulesBatch(rules), nil
}

// GetRule 按ID获取规则
func (s *RuleStore) GetRule(id string) (*models.QualityRule, error) {
	var rule models.QualityRule
	if err := s.db.First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 规则 %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return &rule, nil
}

// GetRules 获取规则列表，datasetID为空时返回全部
func (s *RuleStore) GetRules(datasetID string) ([]models.QualityRule, error) {
	var rules []models.QualityRule
	query := s.db.Model(&models.QualityRule{})
	if datasetID != "" {
		query = query.Where("dataset_id = ?", datasetID)
	}
	if err := query.Order("execution_order ASC, created_at ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return rules, nil
}

// GetRulesByIDs 按ID列表获取规则，保持执行顺序排序
func (s *RuleStore) GetRulesByIDs(ids []string) ([]models.QualityRule, error) {
	var rules []models.QualityRule
	if err := s.db.Where("id IN ?", ids).
		Order("execution_order ASC, created_at ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return rules, nil
}

// ListActiveRules 获取数据集的启用规则，优先命中缓存
func (s *RuleStore) ListActiveRules(datasetID string) ([]models.QualityRule, error) {
	s.mu.RLock()
	entry, ok := s.cache[datasetID]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.rules, nil
	}

	var rules []models.QualityRule
	if err := s.db.Where("dataset_id = ? AND is_enabled = ?", datasetID, true).
		Order("execution_order ASC, created_at ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}

	s.mu.Lock()
	s.cache[datasetID] = &ruleCacheEntry{
		rules:     rules,
		expiresAt: time.Now().Add(s.cacheTTL),
	}
	s.mu.Unlock()

	return rules, nil
}

// UpdateRule 更新规则，条件变更时重新校验，返回前使缓存失效
func (s *RuleStore) UpdateRule(id string, updates map[string]interface{}) (*models.QualityRule, error) {
	rule, err := s.GetRule(id)
	if err != nil {
		return nil, err
	}

	if condition, ok := updates["condition"].(string); ok && condition != rule.Condition {
		probe := *rule
		probe.Condition = condition
		if source, ok := updates["source"].(string); ok {
			probe.Source = source
		}
		if err := s.validateRule(&probe); err != nil {
			return nil, err
		}
	}
	if severity, ok := updates["severity"].(string); ok && !models.IsValidSeverity(severity) {
		return nil, fmt.Errorf("%w: 非法的严重级别 %s", ErrValidation, severity)
	}
	if ruleType, ok := updates["rule_type"].(string); ok && !models.IsValidRuleType(ruleType) {
		return nil, fmt.Errorf("%w: 非法的规则类型 %s", ErrValidation, ruleType)
	}

	updates["updated_at"] = time.Now()
	if err := s.db.Model(&models.QualityRule{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}

	s.InvalidateCache(rule.DatasetID)
	return s.GetRule(id)
}

// DeleteRule 删除规则并使缓存失效
func (s *RuleStore) DeleteRule(id string) error {
	rule, err := s.GetRule(id)
	if err != nil {
		return err
	}

	if err := s.db.Delete(&models.QualityRule{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}

	s.InvalidateCache(rule.DatasetID)
	return nil
}

// UpdateExecutionStats 更新规则运行统计，尽力而为，失败仅记录日志
func (s *RuleStore) UpdateExecutionStats(ruleID string, success bool) {
	rule, err := s.GetRule(ruleID)
	if err != nil {
		slog.Warn("更新规则执行统计失败", "rule_id", ruleID, "error", err)
		return
	}

	execCount := rule.ExecutionCount + 1
	successCount := rule.SuccessCount
	if success {
		successCount++
	}

	updates := map[string]interface{}{
		"execution_count": execCount,
		"success_count":   successCount,
		"success_rate":    float64(successCount) / float64(execCount),
	}
	if err := s.db.Model(&models.QualityRule{}).Where("id = ?", ruleID).Updates(updates).Error; err != nil {
		slog.Warn("更新规则执行统计失败", "rule_id", ruleID, "error", err)
		return
	}

	s.InvalidateCache(rule.DatasetID)
}

// InvalidateCache 使数据集的缓存条目失效
func (s *RuleStore) InvalidateCache(datasetID string) {
	s.mu.Lock()
	delete(s.cache, datasetID)
	s.mu.Unlock()
}

// ClearCache 清空全部缓存
func (s *RuleStore) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*ruleCacheEntry)
	s.mu.Unlock()
}
