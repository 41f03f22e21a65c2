package controllers

import (
	"errors"
	"net/http"

	"ruleengine-service/service/rule_engine"

	"github.com/go-chi/render"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// SuccessResponse 成功响应
func SuccessResponse(w http.ResponseWriter, r *http.Request, msg string, data interface{}) {
	w.WriteHeader(http.StatusOK)
	render.JSON(w, r, &APIResponse{Status: 0, Msg: msg, Data: data})
}

// BadRequestResponse 参数错误响应
func BadRequestResponse(w http.ResponseWriter, r *http.Request, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	render.JSON(w, r, &APIResponse{Status: http.StatusBadRequest, Msg: msg})
}

// NotFoundResponse 对象不存在响应
func NotFoundResponse(w http.ResponseWriter, r *http.Request, msg string) {
	w.WriteHeader(http.StatusNotFound)
	render.JSON(w, r, &APIResponse{Status: http.StatusNotFound, Msg: msg})
}

// InternalErrorResponse 服务端错误响应
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, msg string) {
	w.WriteHeader(http.StatusInternalServerError)
	render.JSON(w, r, &APIResponse{Status: http.StatusInternalServerError, Msg: msg})
}

// ErrorResponse 按错误分类映射HTTP状态码
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rule_engine.ErrValidation):
		BadRequestResponse(w, r, err.Error())
	case errors.Is(err, rule_engine.ErrNotFound):
		NotFoundResponse(w, r, err.Error())
	default:
		InternalErrorResponse(w, r, err.Error())
	}
}
