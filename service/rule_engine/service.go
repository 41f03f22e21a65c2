/*
 * @module service/rule_engine/service
 * @description 规则引擎服务门面，组合条件编译器、规则存储、策略分发器、校验流水线、建议生成器与指标记录器，对外暴露完整操作集
 * @architecture 分层架构 - 业务服务层门面
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 服务初始化 -> 组件装配 -> 请求处理 -> 指标记录
 * @rules 生成引擎按名称路由，内置统计引擎之外的引擎必须先注册；事件通知与指标写入均不阻塞主流程
 * @dependencies gorm.io/gorm
 * @refs service/rule_engine/pipeline.go, service/rule_engine/suggester.go, service/rule_engine/metrics_recorder.go
 */

package rule_engine

import (
	"fmt"
	"log/slog"

	"ruleengine-service/service/models"

	"gorm.io/gorm"
)

// EngineStatistical 内置统计生成引擎名称
const EngineStatistical = "statistical"

// GenerationSampleLimit 内置统计引擎生成规则时的采样上限
const GenerationSampleLimit = 100

// DatasetAccessor 数据集访问器，提供数据集的表格化采样
// 数据加载机制由实现方决定
type DatasetAccessor interface {
	GetDatasetSample(datasetID string, limit int) ([]map[string]interface{}, error)
}

// GenerationProvider 外部规则生成提供方，按引擎名注册
type GenerationProvider interface {
	GenerateRules(datasetID string, columnMeta []models.ColumnMeta, modelType string) ([]models.RuleSuggestion, error)
}

// ValidationNotifier 校验结果的事件通知契约，实现方决定投递通道
type ValidationNotifier interface {
	PublishValidationResult(datasetID string, report *models.ValidationReport) error
}

// Service 规则引擎服务
type Service struct {
	db        *gorm.DB
	compiler  *ConditionCompiler
	store     *RuleStore
	executor  *StrategyExecutor
	suggester *Suggester
	metrics   *MetricsRecorder
	pipeline  *Pipeline

	dataset   DatasetAccessor
	notifier  ValidationNotifier
	providers map[string]GenerationProvider
}

// NewService 创建规则引擎服务并装配全部组件
func NewService(db *gorm.DB) *Service {
	compiler := NewConditionCompiler()
	store := NewRuleStore(db, compiler)
	executor := NewStrategyExecutor(compiler)
	suggester := NewSuggester()
	metrics := NewMetricsRecorder(db)

	return &Service{
		db:        db,
		compiler:  compiler,
		store:     store,
		executor:  executor,
		suggester: suggester,
		metrics:   metrics,
		pipeline:  NewPipeline(store, executor, suggester, metrics),
		providers: make(map[string]GenerationProvider),
	}
}

// Store 规则存储组件
func (s *Service) Store() *RuleStore {
	return s.store
}

// Compiler 条件编译器组件
func (s *Service) Compiler() *ConditionCompiler {
	return s.compiler
}

// Metrics 指标记录器组件
func (s *Service) Metrics() *MetricsRecorder {
	return s.metrics
}

// SetDatasetAccessor 设置数据集访问器
func (s *Service) SetDatasetAccessor(accessor DatasetAccessor) {
	s.dataset = accessor
}

// SetNotifier 设置校验结果通知器
func (s *Service) SetNotifier(notifier ValidationNotifier) {
	s.notifier = notifier
}

// SetClassifier 设置分类器提供方
func (s *Service) SetClassifier(provider ClassifierProvider) {
	s.executor.SetClassifier(provider)
}

// RegisterGenerationProvider 按引擎名注册外部生成提供方
func (s *Service) RegisterGenerationProvider(engine string, provider GenerationProvider) {
	s.providers[engine] = provider
}

// CreateRule 创建规则
func (s *Service) CreateRule(rule *models.QualityRule) error {
	return s.store.CreateRule(rule)
}

// CreateRulesBatch 批量创建规则
func (s *Service) CreateRulesBatch(rules []models.QualityRule) *models.BatchCreateResult {
	return s.store.CreateRulesBatch(rules)
}

// UpdateRule 更新规则
func (s *Service) UpdateRule(id string, updates map[string]interface{}) (*models.QualityRule, error) {
	return s.store.UpdateRule(id, updates)
}

// DeleteRule 删除规则
func (s *Service) DeleteRule(id string) error {
	return s.store.DeleteRule(id)
}

// GetRule 获取单条规则
func (s *Service) GetRule(id string) (*models.QualityRule, error) {
	return s.store.GetRule(id)
}

// GetRules 获取规则列表
func (s *Service) GetRules(datasetID string) ([]models.QualityRule, error) {
	return s.store.GetRules(datasetID)
}

// ImportRules 从JSON导入规则
func (s *Service) ImportRules(datasetID string, rulesJSON []byte) (*models.BatchCreateResult, error) {
	return s.store.ImportRules(datasetID, rulesJSON)
}

// ApplyRulesToDataset 对数据集记录运行规则
func (s *Service) ApplyRulesToDataset(datasetID string, records []map[string]interface{}, ruleIDs []string) (*models.ValidationReport, error) {
	report, err := s.pipeline.ApplyRulesToDataset(datasetID, records, ruleIDs)
	if err != nil {
		return nil, err
	}
	s.publishReport(datasetID, report)
	return report, nil
}

// ValidateDataWithRules 校验数据并过滤高严重级别违规记录
func (s *Service) ValidateDataWithRules(datasetID string, records []map[string]interface{}, opts ValidateOptions) (*models.ValidationOutput, error) {
	output, err := s.pipeline.ValidateDataWithRules(datasetID, records, opts)
	if err != nil {
		return nil, err
	}
	s.publishReport(datasetID, output.Report)
	return output, nil
}

// SuggestRulesFromData 从样本数据推断候选规则
// records为空时通过数据集访问器采样
func (s *Service) SuggestRulesFromData(datasetID string, records []map[string]interface{}, minConfidence float64, maxSuggestions int) (*models.SuggestionResult, error) {
	if len(records) == 0 {
		if s.dataset == nil {
			return nil, fmt.Errorf("%w: 未提供样本数据且未配置数据集访问器", ErrValidation)
		}
		sample, err := s.dataset.GetDatasetSample(datasetID, GenerationSampleLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: 数据集采样失败: %v", ErrRepository, err)
		}
		records = sample
	}
	if len(records) > GenerationSampleLimit {
		records = records[:GenerationSampleLimit]
	}
	return s.suggester.SuggestRules(datasetID, records, minConfidence, maxSuggestions), nil
}

// GenerateRules 按引擎生成候选规则并记录生成指标
// 内置统计引擎基于数据集采样，其余引擎路由到已注册的外部提供方
func (s *Service) GenerateRules(datasetID string, columnMeta []models.ColumnMeta, engine, modelType string) ([]models.RuleSuggestion, error) {
	if engine == "" {
		engine = EngineStatistical
	}

	suggestions, err := s.generateByEngine(datasetID, columnMeta, engine, modelType)

	metric := &models.RuleGenerationMetric{
		DatasetID: datasetID,
		Engine:    engine,
		RuleCount: len(suggestions),
		Success:   err == nil,
	}
	if modelType != "" {
		metric.Meta = models.JSONB{"model_type": modelType}
	}
	s.metrics.RecordGeneration(metric)

	return suggestions, err
}

func (s *Service) generateByEngine(datasetID string, columnMeta []models.ColumnMeta, engine, modelType string) ([]models.RuleSuggestion, error) {
	if engine == EngineStatistical {
		result, err := s.SuggestRulesFromData(datasetID, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return result.Suggestions, nil
	}

	provider, ok := s.providers[engine]
	if !ok {
		return nil, fmt.Errorf("%w: 未注册的生成引擎 %s", ErrValidation, engine)
	}
	suggestions, err := provider.GenerateRules(datasetID, columnMeta, modelType)
	if err != nil {
		return nil, fmt.Errorf("%w: 生成引擎 %s 调用失败: %v", ErrExecution, engine, err)
	}
	return suggestions, nil
}

// GetRuleMetrics 查询数据集的规则执行指标聚合
func (s *Service) GetRuleMetrics(datasetID, timePeriod string, ruleIDs []string) (*models.DatasetMetricsReport, error) {
	return s.metrics.GetRuleMetrics(datasetID, timePeriod, ruleIDs)
}

// CleanupMetrics 按保留期清理指标记录
func (s *Service) CleanupMetrics(retentionDays int) (int64, error) {
	return s.metrics.Cleanup(retentionDays)
}

// publishReport 校验结果事件通知，失败只记录日志
func (s *Service) publishReport(datasetID string, report *models.ValidationReport) {
	if s.notifier == nil || report == nil {
		return
	}
	if err := s.notifier.PublishValidationResult(datasetID, report); err != nil {
		slog.Warn("发布校验结果事件失败", "dataset_id", datasetID, "error", err)
	}
}
