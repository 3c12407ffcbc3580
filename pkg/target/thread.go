package target

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hitzhangjie/srcdbg/pkg/native"
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
)

// Thread 线程信息，寄存器读写都经由tracer完成
type Thread struct {
	Tid    int // thread ID
	tracer native.Tracer
}

func newThread(tid int, tracer native.Tracer) *Thread {
	return &Thread{Tid: tid, tracer: tracer}
}

// Context 读取线程的寄存器快照
func (t *Thread) Context() (*native.Context, error) {
	ctx, err := t.tracer.GetContext(t.Tid)
	if err != nil {
		return nil, fmt.Errorf("get context of thread %d: %w", t.Tid, err)
	}
	return ctx, nil
}

// SetContext 写回线程的寄存器快照
func (t *Thread) SetContext(ctx *native.Context) error {
	if err := t.tracer.SetContext(t.Tid, ctx); err != nil {
		return fmt.Errorf("set context of thread %d: %w", t.Tid, err)
	}
	return nil
}

// PC 返回当前指令地址
func (t *Thread) PC() (uint64, error) {
	ctx, err := t.Context()
	if err != nil {
		return 0, err
	}
	return ctx.Rip, nil
}

// SetTrapFlag 设置TF标志位，线程执行下一条指令后触发单步异常
func (t *Thread) SetTrapFlag() error {
	ctx, err := t.Context()
	if err != nil {
		return err
	}
	ctx.Eflags |= native.TrapFlag
	return t.SetContext(ctx)
}

// RewindPC 断点触发后rip指向0xCC之后，回退1字节以便重新执行原指令
func (t *Thread) RewindPC() error {
	ctx, err := t.Context()
	if err != nil {
		return err
	}
	ctx.Rip--
	return t.SetContext(ctx)
}

// Registers returns the registers a frame base is computed from.
func (t *Thread) Registers() (symbol.Registers, error) {
	ctx, err := t.Context()
	if err != nil {
		return symbol.Registers{}, err
	}
	return symbol.Registers{PC: ctx.Rip, SP: ctx.Rsp, BP: ctx.Rbp}, nil
}

// SetRegister 设置寄存器name的值为value，寄存器名大小写不敏感
func (t *Thread) SetRegister(name string, value uint64) error {
	ctx, err := t.Context()
	if err != nil {
		return err
	}

	// 使用反射设置寄存器值
	rv := reflect.ValueOf(ctx).Elem()
	rt := rv.Type()

	name = strings.ToLower(name)
	for i := 0; i < rv.NumField(); i++ {
		if strings.ToLower(rt.Field(i).Name) == name {
			rv.Field(i).SetUint(value)
			return t.SetContext(ctx)
		}
	}
	return fmt.Errorf("invalid register name: %s", name)
}

// RegisterNames 返回可读写的寄存器名
func RegisterNames() []string {
	rt := reflect.TypeOf(native.Context{})
	names := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		names = append(names, strings.ToLower(rt.Field(i).Name))
	}
	return names
}

// RegisterValues 按RegisterNames的顺序返回寄存器值
func RegisterValues(ctx *native.Context) []uint64 {
	rv := reflect.ValueOf(ctx).Elem()
	values := make([]uint64, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		values = append(values, rv.Field(i).Uint())
	}
	return values
}
