/*
 * @module service/rule_engine/condition_compiler
 * @description 规则条件编译器，将条件文本编译为可执行谓词，带语法校验、危险符号过滤和编译缓存
 * @architecture 解释器模式 - 基于yaegi将条件文本编译为受限的Go表达式
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 危险符号检查 -> 语法编译 -> 缓存 -> 按行/按数据集求值
 * @rules 含有危险符号的条件无论语法是否合法一律拒绝；Validate不产生任何副作用
 * @dependencies github.com/traefik/yaegi
 * @refs service/rule_engine/strategies.go
 */

package rule_engine

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// deniedTokens 危险符号清单，命中即拒绝编译
// 粗粒度安全过滤，真正的隔离由yaegi受限包装承担
var deniedTokens = []string{
	"os.",
	"os/",
	"exec",
	"syscall",
	"unsafe",
	"ioutil",
	"net.",
	"net/",
	"runtime",
	"reflect",
	"import ",
	"import(",
	"interp",
	"__",
}

// conditionWrapper 条件包装模板
// 条件文本被注入到生成的Run函数体内，row/records通过参数传入，
// 并提供一组白名单辅助函数供条件表达式使用
const conditionWrapper = `
package main

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

func toStr(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func toFloat(v interface{}) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(toStr(v)), 64)
	return f
}

func isNumber(v interface{}) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(toStr(v)), 64)
	return err == nil
}

func isWhole(v interface{}) bool {
	f := toFloat(v)
	return f == math.Trunc(f)
}

func matches(pattern string, v interface{}) bool {
	ok, _ := regexp.MatchString(pattern, toStr(v))
	return ok
}

func oneOf(v interface{}, allowed ...string) bool {
	s := toStr(v)
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func parseTime(v interface{}) time.Time {
	s := strings.TrimSpace(toStr(v))
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func pearson(records []map[string]interface{}, colA, colB string) float64 {
	var xs, ys []float64
	for _, rec := range records {
		a, okA := rec[colA]
		b, okB := rec[colB]
		if !okA || !okB || a == nil || b == nil || !isNumber(a) || !isNumber(b) {
			continue
		}
		xs = append(xs, toFloat(a))
		ys = append(ys, toFloat(b))
	}
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n
	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

func subsetOf(records []map[string]interface{}, childCol, parentCol string) bool {
	parents := make(map[string]bool)
	for _, rec := range records {
		if v, ok := rec[parentCol]; ok && v != nil {
			parents[toStr(v)] = true
		}
	}
	for _, rec := range records {
		v, ok := rec[childCol]
		if !ok || v == nil {
			continue
		}
		if !parents[toStr(v)] {
			return false
		}
	}
	return true
}

func Run(params map[string]interface{}) (interface{}, error) {
	row, _ := params["row"].(map[string]interface{})
	records, _ := params["records"].([]map[string]interface{})
	_ = row
	_ = records
%s
}
`

// CompiledCondition 编译后的条件，保存可执行函数
type CompiledCondition struct {
	fn       func(map[string]interface{}) (interface{}, error)
	hash     string
	compiled time.Time
	// datasetScoped 条件引用records时按数据集整体求值，否则逐行求值
	datasetScoped bool
}

// DatasetScoped 条件是否为数据集级
func (c *CompiledCondition) DatasetScoped() bool {
	return c.datasetScoped
}

// EvalRow 对单行记录求值，带超时保护
func (c *CompiledCondition) EvalRow(row map[string]interface{}, timeout time.Duration) (interface{}, error) {
	return c.evalWithTimeout(map[string]interface{}{"row": row}, timeout)
}

// EvalDataset 对整个数据集求值，返回单个布尔或按行布尔序列
func (c *CompiledCondition) EvalDataset(records []map[string]interface{}, timeout time.Duration) (interface{}, error) {
	return c.evalWithTimeout(map[string]interface{}{"records": records}, timeout)
}

// evalWithTimeout 在独立goroutine中求值，超时或panic均转为错误返回
func (c *CompiledCondition) evalWithTimeout(params map[string]interface{}, timeout time.Duration) (interface{}, error) {
	type evalOut struct {
		val interface{}
		err error
	}
	done := make(chan evalOut, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOut{nil, fmt.Errorf("%w: 条件求值panic: %v", ErrExecution, r)}
			}
		}()
		v, err := c.fn(params)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrExecution, err)
		}
		done <- evalOut{v, err}
	}()

	if timeout <= 0 {
		out := <-done
		return out.val, out.err
	}

	select {
	case out := <-done:
		return out.val, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: 条件求值超时(%s)", ErrExecution, timeout)
	}
}

// ConditionCompiler 条件编译器，按条件哈希缓存编译结果
type ConditionCompiler struct {
	mu    sync.RWMutex
	cache map[string]*CompiledCondition
}

// NewConditionCompiler 创建条件编译器实例
func NewConditionCompiler() *ConditionCompiler {
	return &ConditionCompiler{
		cache: make(map[string]*CompiledCondition),
	}
}

// Compile 编译条件文本，命中缓存时直接返回
func (cc *ConditionCompiler) Compile(condition string) (*CompiledCondition, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("%w: 条件不能为空", ErrValidation)
	}

	if token := firstDeniedToken(condition); token != "" {
		return nil, fmt.Errorf("%w: 条件包含禁用符号 %q", ErrValidation, token)
	}

	hash := fmt.Sprintf("%x", sha1.Sum([]byte(condition)))

	cc.mu.RLock()
	compiled, ok := cc.cache[hash]
	cc.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := cc.compile(condition, hash)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	cc.cache[hash] = compiled
	cc.mu.Unlock()

	return compiled, nil
}

// Validate 校验条件文本，使用一次性解释器，不写缓存、无副作用
func (cc *ConditionCompiler) Validate(condition string) error {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return fmt.Errorf("%w: 条件不能为空", ErrValidation)
	}
	if token := firstDeniedToken(condition); token != "" {
		return fmt.Errorf("%w: 条件包含禁用符号 %q", ErrValidation, token)
	}

	_, err := cc.compile(condition, "")
	return err
}

// ClearCache 清理编译缓存
func (cc *ConditionCompiler) ClearCache() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache = make(map[string]*CompiledCondition)
}

// CacheSize 当前缓存的编译结果数量
func (cc *ConditionCompiler) CacheSize() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

// compile 编译条件为可执行函数
func (cc *ConditionCompiler) compile(condition, hash string) (*CompiledCondition, error) {
	body := condition
	if !strings.Contains(condition, "return") {
		// 纯表达式条件包装为返回语句
		body = fmt.Sprintf("\treturn (%s), nil", condition)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("%w: 加载标准库失败: %v", ErrValidation, err)
	}

	wrapped := fmt.Sprintf(conditionWrapper, body)
	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("%w: 条件编译失败: %v", ErrValidation, err)
	}

	v, err := i.Eval("Run")
	if err != nil {
		return nil, fmt.Errorf("%w: 条件编译失败: %v", ErrValidation, err)
	}

	runFunc, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("%w: 条件入口签名不合法", ErrValidation)
	}

	return &CompiledCondition{
		fn:            runFunc,
		hash:          hash,
		compiled:      time.Now(),
		datasetScoped: strings.Contains(condition, "records"),
	}, nil
}

// firstDeniedToken 返回条件中命中的第一个禁用符号，未命中返回空串
func firstDeniedToken(condition string) string {
	lower := strings.ToLower(condition)
	for _, token := range deniedTokens {
		if strings.Contains(lower, token) {
			return token
		}
	}
	return ""
}
