/*
 * @module api/middleware/api_key_auth
 * @description API密钥鉴权中间件，校验请求头中的API密钥
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 密钥提取 -> bcrypt比对 -> 下一个处理器
 * @rules 未配置密钥哈希时跳过鉴权；健康检查与文档路径始终放行
 * @dependencies golang.org/x/crypto/bcrypt, net/http
 * @refs api/routes.go
 */

package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuthMiddleware API密钥鉴权中间件
// 密钥的bcrypt哈希由RULE_API_KEY_HASH环境变量提供
type APIKeyAuthMiddleware struct {
	keyHash        string
	whitelistPaths []string
}

// NewAPIKeyAuthMiddleware 创建API密钥鉴权中间件实例
func NewAPIKeyAuthMiddleware() *APIKeyAuthMiddleware {
	return &APIKeyAuthMiddleware{
		keyHash: os.Getenv("RULE_API_KEY_HASH"),
		whitelistPaths: []string{
			"/health",
			"/ready",
			"/swagger",
		},
	}
}

// IsWhitelistPath 检查路径是否在白名单中，支持前缀匹配
// Prometheus抓取端点/metrics仅精确匹配，避免放行/metrics/下的业务接口
func (m *APIKeyAuthMiddleware) IsWhitelistPath(path string) bool {
	if path == "/metrics" {
		return true
	}
	for _, whitelistPath := range m.whitelistPaths {
		if strings.HasPrefix(path, whitelistPath) {
			return true
		}
	}
	return false
}

// Middleware 鉴权中间件处理函数
func (m *APIKeyAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 未配置密钥哈希时跳过鉴权
		if m.keyHash == "" || m.IsWhitelistPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if apiKey == "" {
			m.respondUnauthorized(w, r, "缺少API密钥")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(m.keyHash), []byte(apiKey)); err != nil {
			m.respondUnauthorized(w, r, "API密钥无效")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// respondUnauthorized 返回401未授权响应
func (m *APIKeyAuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"status":  http.StatusUnauthorized,
		"message": message,
		"error":   "Unauthorized",
	})
}
