package target

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/srcdbg/pkg/logflags"
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
)

// TrapOpcode int3
const TrapOpcode byte = 0xCC

var (
	bpSeqNo = atomic.NewUint64(0)
)

var (
	ErrBreakpointExisted    = errors.New("breakpoint existed")
	ErrBreakpointNotExisted = errors.New("breakpoint not existed")
)

// Breakpoint 断点信息
type Breakpoint struct {
	ID   uint64 // 断点编号
	Addr uint64 // 断点地址
	Pos  string // 源文件位置
	Orig byte   // 原内存数据
}

// 在指令地址addr处创建一个断点，该地址处原始的1字节数据为orig
func newBreakPoint(addr uint64, orig byte) *Breakpoint {
	return &Breakpoint{
		ID:   bpSeqNo.Add(1),
		Addr: addr,
		Orig: orig,
	}
}

// Breakpoints 所有的断点信息
type Breakpoints []*Breakpoint

// Len 返回长度
func (b Breakpoints) Len() int {
	return len(b)
}

// Less 检查b[i]是否小于b[j]
func (b Breakpoints) Less(i, j int) bool {
	return b[i].ID < b[j].ID
}

// Swap 交换b[i]和b[j]
func (b Breakpoints) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

// BreakpointKind 断点陷入的分类，每次陷入时根据地址重新计算
type BreakpointKind int

const (
	KindCode BreakpointKind = iota
	KindInit
	KindEntry
	KindUser
	KindStepOver
	KindStepOut
)

func (k BreakpointKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindEntry:
		return "entry"
	case KindUser:
		return "user"
	case KindStepOver:
		return "step-over"
	case KindStepOut:
		return "step-out"
	default:
		return "code"
	}
}

// phase how far the session got through its startup traps. The facility
// reports the bootstrap trap first. The entry trap is the first one at the
// planted entry address.
type phase int

const (
	phaseAwaitingBootstrap phase = iota
	phaseAwaitingEntry
	phaseRunning
)

// BreakpointManager 管理用户断点以及step over、step out、入口函数的临时断点
//
// 同一地址同一时刻最多只patch一次：多个断点共享地址时，原始字节取自已生效的断点，
// 只有最后一个断点移除时才恢复原始字节。
type BreakpointManager struct {
	mem symbol.Memory

	user     map[uint64]*Breakpoint
	stepOver *Breakpoint
	stepOut  *Breakpoint
	entry    *Breakpoint

	// user breakpoint lifted to let its instruction execute once
	lifted    uint64
	hasLifted bool
	resetAt   uint64
	needReset bool

	phase phase

	singleInstruction bool
	steppingOver      bool
	steppingOut       bool

	logger *logrus.Entry
}

// NewBreakpointManager 创建断点管理器，断点读写mem
func NewBreakpointManager(mem symbol.Memory) *BreakpointManager {
	return &BreakpointManager{
		mem:    mem,
		user:   map[uint64]*Breakpoint{},
		logger: logflags.BreakpointLogger(),
	}
}

// Reset 清空所有断点状态，调试进程退出时调用，不再访问内存
func (m *BreakpointManager) Reset() {
	m.user = map[uint64]*Breakpoint{}
	m.stepOver, m.stepOut, m.entry = nil, nil, nil
	m.lifted, m.hasLifted = 0, false
	m.resetAt, m.needReset = 0, false
	m.phase = phaseAwaitingBootstrap
	m.singleInstruction, m.steppingOver, m.steppingOut = false, false, false
}

// patchedBy returns the live breakpoint other than except whose trap opcode
// is written at addr.
func (m *BreakpointManager) patchedBy(addr uint64, except *Breakpoint) *Breakpoint {
	for _, bp := range []*Breakpoint{m.entry, m.stepOver, m.stepOut} {
		if bp != nil && bp != except && bp.Addr == addr {
			return bp
		}
	}
	if bp, ok := m.user[addr]; ok && bp != except && !(m.hasLifted && m.lifted == addr) {
		return bp
	}
	return nil
}

// patch writes the trap opcode at addr for bp and returns the byte it
// replaced.
func (m *BreakpointManager) patch(addr uint64, bp *Breakpoint) (byte, error) {
	if other := m.patchedBy(addr, bp); other != nil {
		return other.Orig, nil
	}

	orig, err := symbol.ReadByte(m.mem, addr)
	if err != nil {
		return 0, fmt.Errorf("peek text at %#x: %w", addr, err)
	}
	if err := symbol.WriteByte(m.mem, addr, TrapOpcode); err != nil {
		return 0, fmt.Errorf("poke text at %#x: %w", addr, err)
	}
	return orig, nil
}

// restore writes back the original byte of bp unless another breakpoint still
// patches the same address. Failures are logged and never retried.
func (m *BreakpointManager) restore(bp *Breakpoint) {
	if m.patchedBy(bp.Addr, bp) != nil {
		return
	}
	if err := symbol.WriteByte(m.mem, bp.Addr, bp.Orig); err != nil {
		m.logger.Errorf("restore breakpoint at %#x: %v", bp.Addr, err)
	}
}

// SetUser 在地址addr处添加用户断点
func (m *BreakpointManager) SetUser(addr uint64) (*Breakpoint, error) {
	if _, ok := m.user[addr]; ok {
		return nil, ErrBreakpointExisted
	}
	orig, err := m.patch(addr, nil)
	if err != nil {
		return nil, err
	}
	bp := newBreakPoint(addr, orig)
	m.user[addr] = bp
	m.logger.Debugf("set breakpoint %d at %#x, orig %#02x", bp.ID, addr, orig)
	return bp, nil
}

// CancelUser 删除addr处的用户断点
func (m *BreakpointManager) CancelUser(addr uint64) (*Breakpoint, error) {
	bp, ok := m.user[addr]
	if !ok {
		return nil, ErrBreakpointNotExisted
	}

	if m.hasLifted && m.lifted == addr {
		// already restored
		m.hasLifted = false
		delete(m.user, addr)
	} else {
		delete(m.user, addr)
		m.restore(bp)
	}
	if m.needReset && m.resetAt == addr {
		m.needReset = false
	}
	m.logger.Debugf("clear breakpoint %d at %#x", bp.ID, addr)
	return bp, nil
}

// UserAt 返回addr处的用户断点
func (m *BreakpointManager) UserAt(addr uint64) (*Breakpoint, bool) {
	bp, ok := m.user[addr]
	return bp, ok
}

// UserByID 返回编号为id的用户断点
func (m *BreakpointManager) UserByID(id uint64) (*Breakpoint, bool) {
	for _, bp := range m.user {
		if bp.ID == id {
			return bp, true
		}
	}
	return nil, false
}

// User 返回所有用户断点，按编号排序
func (m *BreakpointManager) User() Breakpoints {
	bps := make(Breakpoints, 0, len(m.user))
	for _, bp := range m.user {
		bps = append(bps, bp)
	}
	sort.Sort(bps)
	return bps
}

// Patched returns the addresses whose byte currently is the trap opcode
// written by this manager, in ascending order.
func (m *BreakpointManager) Patched() []uint64 {
	seen := map[uint64]bool{}
	for _, bp := range []*Breakpoint{m.entry, m.stepOver, m.stepOut} {
		if bp != nil {
			seen[bp.Addr] = true
		}
	}
	for addr := range m.user {
		if !(m.hasLifted && m.lifted == addr) {
			seen[addr] = true
		}
	}
	addrs := make([]uint64, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// setTransient cancels the breakpoint in slot and plants a new one at addr.
func (m *BreakpointManager) setTransient(slot **Breakpoint, addr uint64) error {
	m.cancelTransient(slot)
	orig, err := m.patch(addr, nil)
	if err != nil {
		return err
	}
	*slot = &Breakpoint{Addr: addr, Orig: orig}
	return nil
}

func (m *BreakpointManager) cancelTransient(slot **Breakpoint) {
	bp := *slot
	if bp == nil {
		return
	}
	*slot = nil
	m.restore(bp)
}

// SetStepOver 在addr处设置step over临时断点
func (m *BreakpointManager) SetStepOver(addr uint64) error {
	return m.setTransient(&m.stepOver, addr)
}

// CancelStepOver 移除step over临时断点
func (m *BreakpointManager) CancelStepOver() {
	m.cancelTransient(&m.stepOver)
}

// SetStepOut 在addr处设置step out临时断点
func (m *BreakpointManager) SetStepOut(addr uint64) error {
	return m.setTransient(&m.stepOut, addr)
}

// CancelStepOut 移除step out临时断点
func (m *BreakpointManager) CancelStepOut() {
	m.cancelTransient(&m.stepOut)
}

// SetEntry 在入口函数addr处设置断点
func (m *BreakpointManager) SetEntry(addr uint64) error {
	return m.setTransient(&m.entry, addr)
}

// CancelEntry 移除入口函数断点
func (m *BreakpointManager) CancelEntry() {
	m.cancelTransient(&m.entry)
}

// StepOverAt reports the address of the live step over breakpoint.
func (m *BreakpointManager) StepOverAt() (uint64, bool) {
	if m.stepOver == nil {
		return 0, false
	}
	return m.stepOver.Addr, true
}

// StepOutAt reports the address of the live step out breakpoint.
func (m *BreakpointManager) StepOutAt() (uint64, bool) {
	if m.stepOut == nil {
		return 0, false
	}
	return m.stepOut.Addr, true
}

// EntryAt reports the address of the live entry breakpoint.
func (m *BreakpointManager) EntryAt() (uint64, bool) {
	if m.entry == nil {
		return 0, false
	}
	return m.entry.Addr, true
}

// Classify 对陷入地址addr分类：第一次陷入是进程启动时的bootstrap断点，
// 第二次陷入是入口函数断点，之后依次匹配step over、step out、用户断点
func (m *BreakpointManager) Classify(addr uint64) BreakpointKind {
	switch m.phase {
	case phaseAwaitingBootstrap:
		if m.entry != nil {
			m.phase = phaseAwaitingEntry
		} else {
			m.phase = phaseRunning
		}
		return KindInit
	case phaseAwaitingEntry:
		if m.entry == nil {
			m.phase = phaseRunning
			break
		}
		if m.entry.Addr == addr {
			m.phase = phaseRunning
			return KindEntry
		}
		// entry stays armed, the trap is classified as any other
		m.logger.Warnf("trap at %#x before entry breakpoint %#x", addr, m.entry.Addr)
	}

	if m.stepOver != nil && m.stepOver.Addr == addr {
		return KindStepOver
	}
	if m.stepOut != nil && m.stepOut.Addr == addr {
		return KindStepOut
	}
	if _, ok := m.user[addr]; ok {
		return KindUser
	}
	return KindCode
}

// RecoverUser 恢复addr处用户断点的原始字节，保留断点记录
func (m *BreakpointManager) RecoverUser(addr uint64) bool {
	bp, ok := m.user[addr]
	if !ok {
		return false
	}
	m.restore(bp)
	m.lifted, m.hasLifted = addr, true
	return true
}

// SaveResetAt 记录需要在下一次单步后重新设置的用户断点
func (m *BreakpointManager) SaveResetAt(addr uint64) {
	m.resetAt, m.needReset = addr, true
}

// LiftUser 摘除addr处尚未摘除的用户断点，并记录在下一次单步后重新设置
func (m *BreakpointManager) LiftUser(addr uint64) bool {
	if _, ok := m.user[addr]; !ok || (m.hasLifted && m.lifted == addr) {
		return false
	}
	m.RecoverUser(addr)
	m.SaveResetAt(addr)
	return true
}

// ResetIfNeeded 重新设置SaveResetAt记录的用户断点
func (m *BreakpointManager) ResetIfNeeded() {
	if !m.needReset {
		return
	}
	addr := m.resetAt
	m.needReset = false
	if m.hasLifted && m.lifted == addr {
		m.hasLifted = false
	}

	bp, ok := m.user[addr]
	if !ok {
		return
	}
	orig, err := m.patch(addr, bp)
	if err != nil {
		m.logger.Errorf("reset breakpoint %d at %#x: %v", bp.ID, addr, err)
		return
	}
	bp.Orig = orig
}

// maskOriginal replaces trap opcodes written by this manager in buf, read
// from addr, with the original bytes.
func (m *BreakpointManager) maskOriginal(addr uint64, buf []byte) {
	end := addr + uint64(len(buf))
	for _, a := range m.Patched() {
		if a < addr || a >= end {
			continue
		}
		if bp := m.patchedBy(a, nil); bp != nil {
			buf[a-addr] = bp.Orig
		}
	}
}
