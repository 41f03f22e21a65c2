/*
 * @module api/controllers/metrics_controller
 * @description 规则指标控制器，提供执行指标查询与保留期清理接口
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 请求接收 -> 时间窗口解析 -> 指标聚合 -> 响应返回
 * @rules 时间窗口形如"7d"，非法格式回退默认7天
 * @dependencies net/http
 * @refs service/rule_engine/metrics_recorder.go
 */

package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"ruleengine-service/service"
	"ruleengine-service/service/rule_engine"
)

// MetricsController 规则指标控制器
type MetricsController struct {
	engine *rule_engine.Service
}

// NewMetricsController 创建规则指标控制器实例
func NewMetricsController() *MetricsController {
	return &MetricsController{engine: service.GlobalRuleEngineService}
}

// GetRuleMetrics 查询规则执行指标
// @Summary 查询规则执行指标
// @Description 按数据集与时间窗口聚合规则执行指标，含每规则汇总与按天趋势
// @Tags 规则指标
// @Produce json
// @Param dataset_id query string true "数据集ID"
// @Param time_period query string false "时间窗口，形如7d、30d" default(7d)
// @Param rule_ids query string false "规则ID列表，逗号分隔"
// @Success 200 {object} APIResponse{data=models.DatasetMetricsReport}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /metrics/rules [get]
func (c *MetricsController) GetRuleMetrics(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID == "" {
		BadRequestResponse(w, r, "dataset_id不能为空")
		return
	}

	var ruleIDs []string
	if raw := r.URL.Query().Get("rule_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ruleIDs = append(ruleIDs, id)
			}
		}
	}

	report, err := c.engine.GetRuleMetrics(datasetID, r.URL.Query().Get("time_period"), ruleIDs)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "获取规则指标成功", report)
}

// CleanupMetrics 触发指标清理
// @Summary 清理过期指标
// @Description 删除超过保留期的执行与生成指标记录，retention_days为空时使用默认保留期
// @Tags 规则指标
// @Produce json
// @Param retention_days query int false "保留天数" default(30)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /metrics/cleanup [post]
func (c *MetricsController) CleanupMetrics(w http.ResponseWriter, r *http.Request) {
	retentionDays := rule_engine.DefaultRetentionDays
	if raw := r.URL.Query().Get("retention_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			BadRequestResponse(w, r, "retention_days必须为正整数")
			return
		}
		retentionDays = days
	}

	deleted, err := c.engine.CleanupMetrics(retentionDays)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	SuccessResponse(w, r, "指标清理完成", map[string]interface{}{
		"retention_days": retentionDays,
		"deleted_rows":   deleted,
	})
}
