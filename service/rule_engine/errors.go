/*
 * @module service/rule_engine/errors
 * @description 规则引擎错误分类定义，区分校验错误、执行错误、对象不存在和存储错误
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 错误产生 -> 分类包装 -> 调用方按类型处理
 * @rules 校验错误在持久化前拒绝；执行错误转为违规记录不中断批次；存储错误向上传递
 * @dependencies errors
 * @refs service/rule_engine/rule_store.go, service/rule_engine/strategies.go
 */

package rule_engine

import "errors"

var (
	// ErrValidation 规则结构非法或条件无法编译，在持久化前拒绝
	ErrValidation = errors.New("规则校验失败")
	// ErrExecution 规则执行期失败，调用方应转为违规记录而非中断批次
	ErrExecution = errors.New("规则执行失败")
	// ErrNotFound 规则或数据集不存在
	ErrNotFound = errors.New("对象不存在")
	// ErrRepository 持久化层访问失败，进程内不可恢复
	ErrRepository = errors.New("存储访问失败")
)
