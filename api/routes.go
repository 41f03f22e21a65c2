/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers
 */

package api

import (
	"ruleengine-service/api/controllers"
	apimiddleware "ruleengine-service/api/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API密钥鉴权，未配置密钥时自动跳过
	r.Use(apimiddleware.NewAPIKeyAuthMiddleware().Middleware)

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 规则管理
	r.Route("/rules", func(r chi.Router) {
		ruleController := controllers.NewRuleController()

		// 基础CRUD操作
		r.Post("/", ruleController.CreateRule)
		r.Get("/", ruleController.GetRules)
		r.Get("/{id}", ruleController.GetRule)
		r.Put("/{id}", ruleController.UpdateRule)
		r.Delete("/{id}", ruleController.DeleteRule)

		// 批量操作
		r.Post("/batch", ruleController.CreateRulesBatch)
		r.Post("/import", ruleController.ImportRules)

		// 规则生成
		r.Post("/generate", ruleController.GenerateRules)
	})

	// 数据校验
	r.Route("/validation", func(r chi.Router) {
		validationController := controllers.NewValidationController()

		r.Post("/apply", validationController.ApplyRules)
		r.Post("/validate", validationController.ValidateData)
		r.Post("/suggest", validationController.SuggestRules)
	})

	// 规则指标
	r.Route("/metrics", func(r chi.Router) {
		metricsController := controllers.NewMetricsController()

		r.Get("/rules", metricsController.GetRuleMetrics)
		r.Post("/cleanup", metricsController.CleanupMetrics)
	})
}
