package target

import (
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
)

// LineSource resolves the source line a thread currently executes.
type LineSource interface {
	LineOf(tid int) (symbol.LineInfo, bool)
}

// StepController 记录每个线程最近一次快照的源码行，用于判断单步执行后源码行是否变化
type StepController struct {
	src     LineSource
	last    map[int]symbol.LineInfo // tid -> line info
	checked symbol.LineInfo
}

// NewStepController 创建StepController
func NewStepController(src LineSource) *StepController {
	return &StepController{
		src:  src,
		last: map[int]symbol.LineInfo{},
	}
}

// Reset 清空所有线程的快照
func (c *StepController) Reset() {
	c.last = map[int]symbol.LineInfo{}
	c.checked = symbol.LineInfo{}
}

// Snapshot 记录线程tid当前所在的源码行，无法解析时记录空行
func (c *StepController) Snapshot(tid int) {
	li, ok := c.src.LineOf(tid)
	if !ok {
		li = symbol.LineInfo{}
	}
	c.last[tid] = li
}

// LineChanged 判断线程tid当前所在源码行与快照是否不同，无法解析时视为同一行
func (c *StepController) LineChanged(tid int) bool {
	li, ok := c.src.LineOf(tid)
	if !ok {
		return false
	}
	c.checked = li
	return li != c.last[tid]
}

// Sample records the line thread tid stopped at as the current line.
func (c *StepController) Sample(tid int) (symbol.LineInfo, bool) {
	li, ok := c.src.LineOf(tid)
	if ok {
		c.checked = li
	}
	return li, ok
}

// Last 返回最近一次解析成功的源码行
func (c *StepController) Last() symbol.LineInfo {
	return c.checked
}
