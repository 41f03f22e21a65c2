/*
 * @module api/controllers/rule_controller
 * @description 规则管理控制器，提供规则的增删改查、批量创建、JSON导入与生成接口
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 请求接收 -> 参数校验 -> 业务逻辑处理 -> 响应返回
 * @rules 校验错误返回400，对象不存在返回404，存储错误返回500
 * @dependencies net/http, encoding/json
 * @refs service/rule_engine/service.go
 */

package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"ruleengine-service/service"
	"ruleengine-service/service/models"
	"ruleengine-service/service/rule_engine"

	"github.com/go-chi/chi/v5"
)

// RuleController 规则管理控制器
type RuleController struct {
	engine *rule_engine.Service
}

// NewRuleController 创建规则管理控制器实例
func NewRuleController() *RuleController {
	return &RuleController{engine: service.GlobalRuleEngineService}
}

// CreateRule 创建规则
// @Summary 创建业务规则
// @Description 创建新的业务规则，条件在持久化前通过编译校验
// @Tags 规则管理
// @Accept json
// @Produce json
// @Param rule body models.QualityRule true "规则信息"
// @Success 200 {object} APIResponse{data=models.QualityRule}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /rules [post]
func (c *RuleController) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.QualityRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}

	if err := c.engine.CreateRule(&rule); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则创建成功", rule)
}

// CreateRulesBatch 批量创建规则
// @Summary 批量创建业务规则
// @Description 批量创建规则，单条失败不影响其余规则，至少创建一条即视为成功
// @Tags 规则管理
// @Accept json
// @Produce json
// @Param rules body []models.QualityRule true "规则列表"
// @Success 200 {object} APIResponse{data=models.BatchCreateResult}
// @Failure 400 {object} APIResponse
// @Router /rules/batch [post]
func (c *RuleController) CreateRulesBatch(w http.ResponseWriter, r *http.Request) {
	var rules []models.QualityRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}

	result := c.engine.CreateRulesBatch(rules)
	if !result.Success {
		BadRequestResponse(w, r, "批量创建失败，无任何规则创建成功")
		return
	}

	SuccessResponse(w, r, "批量创建完成", result)
}

// ImportRulesRequest 规则导入请求
type ImportRulesRequest struct {
	DatasetID string          `json:"dataset_id"`
	Rules     json.RawMessage `json:"rules"`
}

// ImportRules 导入规则
// @Summary 从JSON导入规则
// @Description 将规则JSON数组导入到指定数据集，单条失败隔离
// @Tags 规则管理
// @Accept json
// @Produce json
// @Param request body ImportRulesRequest true "导入请求"
// @Success 200 {object} APIResponse{data=models.BatchCreateResult}
// @Failure 400 {object} APIResponse
// @Router /rules/import [post]
func (c *RuleController) ImportRules(w http.ResponseWriter, r *http.Request) {
	var req ImportRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		BadRequestResponse(w, r, "dataset_id不能为空")
		return
	}

	result, err := c.engine.ImportRules(req.DatasetID, req.Rules)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则导入完成", result)
}

// GenerateRulesRequest 规则生成请求
type GenerateRulesRequest struct {
	DatasetID  string              `json:"dataset_id"`
	ColumnMeta []models.ColumnMeta `json:"column_meta,omitempty"`
	Engine     string              `json:"engine,omitempty"`
	ModelType  string              `json:"model_type,omitempty"`
}

// GenerateRules 生成候选规则
// @Summary 按引擎生成候选规则
// @Description 内置统计引擎基于数据集采样生成，其余引擎路由到已注册的外部提供方
// @Tags 规则管理
// @Accept json
// @Produce json
// @Param request body GenerateRulesRequest true "生成请求"
// @Success 200 {object} APIResponse{data=[]models.RuleSuggestion}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /rules/generate [post]
func (c *RuleController) GenerateRules(w http.ResponseWriter, r *http.Request) {
	var req GenerateRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		BadRequestResponse(w, r, "dataset_id不能为空")
		return
	}

	suggestions, err := c.engine.GenerateRules(req.DatasetID, req.ColumnMeta, req.Engine, req.ModelType)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则生成成功", suggestions)
}

// GetRules 获取规则列表
// @Summary 获取规则列表
// @Description 按数据集筛选规则列表，dataset_id为空时返回全部
// @Tags 规则管理
// @Produce json
// @Param dataset_id query string false "数据集ID"
// @Success 200 {object} APIResponse{data=[]models.QualityRule}
// @Failure 500 {object} APIResponse
// @Router /rules [get]
func (c *RuleController) GetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := c.engine.GetRules(r.URL.Query().Get("dataset_id"))
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "获取规则列表成功", rules)
}

// GetRule 获取规则详情
// @Summary 获取规则详情
// @Description 根据规则ID获取规则的详细信息
// @Tags 规则管理
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse{data=models.QualityRule}
// @Failure 404 {object} APIResponse
// @Router /rules/{id} [get]
func (c *RuleController) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := c.engine.GetRule(chi.URLParam(r, "id"))
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "获取规则详情成功", rule)
}

// UpdateRule 更新规则
// @Summary 更新业务规则
// @Description 更新指定规则，条件变更时重新编译校验
// @Tags 规则管理
// @Accept json
// @Produce json
// @Param id path string true "规则ID"
// @Param updates body object true "更新字段"
// @Success 200 {object} APIResponse{data=models.QualityRule}
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /rules/{id} [put]
func (c *RuleController) UpdateRule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		BadRequestResponse(w, r, "读取请求体失败: "+err.Error())
		return
	}

	var updates map[string]interface{}
	if err := json.Unmarshal(body, &updates); err != nil {
		BadRequestResponse(w, r, "请求体解析失败: "+err.Error())
		return
	}

	rule, err := c.engine.UpdateRule(chi.URLParam(r, "id"), updates)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则更新成功", rule)
}

// DeleteRule 删除规则
// @Summary 删除业务规则
// @Description 删除指定规则并使数据集缓存失效
// @Tags 规则管理
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /rules/{id} [delete]
func (c *RuleController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := c.engine.DeleteRule(chi.URLParam(r, "id")); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "规则删除成功", nil)
}
