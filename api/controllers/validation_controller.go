/*
 * @module api/controllers/validation_controller
 * @description 数据校验控制器，提供规则应用、数据校验与规则建议接口
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 请求接收 -> 参数校验 -> 规则执行管线 -> 响应返回
 * @rules 空记录集返回零规则报告而非错误；高严重级别违规记录在校验输出中剔除
 * @dependencies net/http, encoding/json
 * @refs service/rule_engine/pipeline.go
 */

package controllers

import (
	"encoding/json"
	"net/http"

	"ruleengine-service/service"
	"ruleengine-service/service/rule_engine"
	"ruleengine-service/service/utils"
)

// ValidationController 数据校验控制器
type ValidationController struct {
	engine    *rule_engine.Service
	converter *utils.DataConverter
}

// NewValidationController 创建数据校验控制器实例
func NewValidationController() *ValidationController {
	return &ValidationController{
		engine:    service.GlobalRuleEngineService,
		converter: utils.NewDataConverter(),
	}
}

// ApplyRulesRequest 规则应用请求
type ApplyRulesRequest struct {
	DatasetID string                   `json:"dataset_id"`
	Records   []map[string]interface{} `json:"records"`
	RuleIDs   []string                 `json:"rule_ids,omitempty"`
}

// ApplyRules 对数据集执行规则
// @Summary 对数据执行规则
// @Description 对记录集执行数据集的启用规则（或显式指定的规则），返回完整执行报告
// @Tags 数据校验
// @Accept json
// @Produce json
// @Param request body ApplyRulesRequest true "执行请求"
// @Success 200 {object} APIResponse{data=models.ValidationReport}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /validation/apply [post]
func (c *ValidationController) ApplyRules(w http.ResponseWriter, r *http.Request) {
	var req ApplyRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		BadRequestResponse(w, r, "dataset_id不能为空")
		return
	}

	// 外部提交的记录先做字符集与数值类型归一化
	report, err := c.engine.ApplyRulesToDataset(req.DatasetID, c.converter.NormalizeRecords(req.Records), req.RuleIDs)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则执行完成", report)
}

// ValidateDataRequest 数据校验请求
type ValidateDataRequest struct {
	DatasetID           string                   `json:"dataset_id"`
	Records             []map[string]interface{} `json:"records"`
	RuleIDs             []string                 `json:"rule_ids,omitempty"`
	IncludeSuggestions  bool                     `json:"include_suggestions,omitempty"`
	ConfidenceThreshold float64                  `json:"confidence_threshold,omitempty"`
	MaxSuggestions      int                      `json:"max_suggestions,omitempty"`
}

// ValidateData 校验数据
// @Summary 校验数据并过滤违规记录
// @Description 运行校验类型规则，剔除命中高严重级别规则的记录，可选返回候选规则建议与影响估算
// @Tags 数据校验
// @Accept json
// @Produce json
// @Param request body ValidateDataRequest true "校验请求"
// @Success 200 {object} APIResponse{data=models.ValidationOutput}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /validation/validate [post]
func (c *ValidationController) ValidateData(w http.ResponseWriter, r *http.Request) {
	var req ValidateDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		BadRequestResponse(w, r, "dataset_id不能为空")
		return
	}

	output, err := c.engine.ValidateDataWithRules(req.DatasetID, c.converter.NormalizeRecords(req.Records), rule_engine.ValidateOptions{
		RuleIDs:             req.RuleIDs,
		IncludeSuggestions:  req.IncludeSuggestions,
		ConfidenceThreshold: req.ConfidenceThreshold,
		MaxSuggestions:      req.MaxSuggestions,
	})
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "数据校验完成", output)
}

// SuggestRulesRequest 规则建议请求
type SuggestRulesRequest struct {
	DatasetID      string                   `json:"dataset_id"`
	Records        []map[string]interface{} `json:"records,omitempty"`
	MinConfidence  float64                  `json:"min_confidence,omitempty"`
	MaxSuggestions int                      `json:"max_suggestions,omitempty"`
}

// SuggestRules 生成规则建议
// @Summary 基于数据统计生成规则建议
// @Description 对样本数据做列级统计分析，生成带置信度的候选规则；records为空时从数据集采样
// @Tags 数据校验
// @Accept json
// @Produce json
// @Param request body SuggestRulesRequest true "建议请求"
// @Success 200 {object} APIResponse{data=models.SuggestionResult}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /validation/suggest [post]
func (c *ValidationController) SuggestRules(w http.ResponseWriter, r *http.Request) {
	var req SuggestRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		BadRequestResponse(w, r, "dataset_id不能为空")
		return
	}

	result, err := c.engine.SuggestRulesFromData(req.DatasetID, c.converter.NormalizeRecords(req.Records), req.MinConfidence, req.MaxSuggestions)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则建议生成成功", result)
}
