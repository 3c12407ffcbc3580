package target

import (
	"strings"

	"github.com/hitzhangjie/srcdbg/pkg/native"
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
)

// dispatch 处理一个调试事件，返回true表示继续执行，false表示会话停止
func (s *Session) dispatch(ev native.Event) bool {
	s.stopped = 0
	s.logger.Debugf("debug event: %v", ev)

	switch ev.Kind {
	case native.EventProcessCreated:
		return s.onProcessCreated(ev)
	case native.EventThreadCreated:
		s.thread(ev.Tid)
		s.disposition = native.Handled
		return true
	case native.EventException:
		return s.onException(ev)
	case native.EventProcessExited:
		return s.onProcessExited(ev)
	case native.EventThreadExited:
		if ev.Tid != s.mainTid {
			delete(s.threads, ev.Tid)
		}
		s.disposition = native.Handled
		return true
	case native.EventModuleLoaded:
		if err := s.resolver.Load(moduleInfo(ev.Module)); err != nil {
			s.logger.Debugf("no symbols for %s: %v", ev.Module.Path, err)
		}
		s.disposition = native.Handled
		return true
	case native.EventModuleUnloaded:
		s.resolver.Unload(ev.Module.Base)
		s.disposition = native.Handled
		return true
	case native.EventDebugString:
		s.output.WriteString(strings.ToValidUTF8(string(ev.Output), "\uFFFD"))
		s.disposition = native.Handled
		return true
	case native.EventProtocolError:
		s.logger.Errorf("debug protocol error on thread %d: %v", ev.Tid, ev.Err)
		s.stop(ev.Tid)
		return false
	}

	s.logger.Warnf("unknown debug event: %v", ev)
	s.disposition = native.Handled
	return true
}

func moduleInfo(m native.Module) symbol.ModuleInfo {
	return symbol.ModuleInfo{Path: m.Path, Base: m.Base, Size: m.Size}
}

// stop 会话在线程tid上停止
func (s *Session) stop(tid int) {
	s.status = StatusInterrupted
	s.stopped = tid
	s.steps.Sample(tid)
}

// cancelSteps 取消未完成的step over、step out
func (s *Session) cancelSteps() {
	s.bps.CancelStepOver()
	s.bps.CancelStepOut()
	s.bps.steppingOver = false
	s.bps.steppingOut = false
	s.stepOutReturn = false
}

func (s *Session) logErr(err error) {
	if err != nil {
		s.logger.Errorf("%v", err)
	}
}

func (s *Session) onProcessCreated(ev native.Event) bool {
	s.bps.Reset()
	s.steps.Reset()
	s.resolver.Reset()
	s.thread(ev.Tid)
	s.disposition = native.Handled

	if err := s.resolver.Load(moduleInfo(ev.Module)); err != nil {
		s.logger.Warnf("load symbols of %s: %v", ev.Module.Path, err)
		return true
	}

	// 在入口函数处设置断点
	for _, name := range s.opts.EntryFunctions {
		addr, err := s.resolver.FindAddress(name)
		if err != nil {
			continue
		}
		if err := s.bps.SetEntry(addr); err != nil {
			s.logger.Errorf("set entry breakpoint at %s: %v", name, err)
			return true
		}
		s.logger.Debugf("entry breakpoint at %s %#x", name, addr)
		return true
	}
	s.logger.Warnf("no entry function found in %s, tried %v", ev.Module.Path, s.opts.EntryFunctions)
	return true
}

func (s *Session) onProcessExited(ev native.Event) bool {
	s.logger.Infof("process %d exited with code %d", ev.Pid, ev.ExitCode)
	s.reset()
	s.exitCode = ev.ExitCode
	return false
}

func (s *Session) onException(ev native.Event) bool {
	switch ev.Exception.Code {
	case native.ExceptionBreakpoint:
		return s.onBreakpoint(ev)
	case native.ExceptionSingleStep:
		return s.onSingleStep(ev)
	}

	s.logger.Warnf("thread %d raised %s at %#x", ev.Tid, ev.Exception.Code, ev.Exception.Addr)
	exc := ev.Exception
	s.exception = &exc
	s.disposition = native.NotHandled
	s.stop(ev.Tid)
	return false
}

func (s *Session) onBreakpoint(ev native.Event) bool {
	th := s.thread(ev.Tid)
	addr := ev.Exception.Addr

	kind := s.bps.Classify(addr)
	s.logger.Debugf("thread %d hit %s breakpoint at %#x", ev.Tid, kind, addr)

	switch kind {
	case KindInit:
		s.disposition = native.Handled
		return true
	case KindEntry:
		return s.onEntry(th)
	case KindUser:
		// 恢复原始指令并回退rip，单步执行原指令后重新设置断点
		s.bps.RecoverUser(addr)
		s.logErr(th.RewindPC())
		s.logErr(th.SetTrapFlag())
		s.bps.SaveResetAt(addr)
		return s.onNormalBreakpoint(th)
	case KindStepOver:
		s.bps.CancelStepOver()
		s.logErr(th.RewindPC())
		return s.handleSingleStep(th)
	case KindStepOut:
		return s.onStepOut(th, addr)
	default:
		return s.onNormalBreakpoint(th)
	}
}

func (s *Session) onEntry(th *Thread) bool {
	s.bps.CancelEntry()
	s.logErr(th.RewindPC())

	s.userTid = th.Tid
	s.breakTid.Store(int64(th.Tid))
	if pc, err := th.PC(); err == nil {
		if li, ok := s.resolver.SourceLine(pc); ok {
			s.resolver.SetEntryFile(li.File)
		}
	}
	s.disposition = native.Handled

	if !s.opts.StopOnEntry {
		return true
	}
	s.alwaysContinue = true
	s.stop(th.Tid)
	return false
}

func (s *Session) onNormalBreakpoint(th *Thread) bool {
	if s.bps.singleInstruction {
		s.disposition = native.Handled
		return true
	}
	s.cancelSteps()
	s.alwaysContinue = true
	s.stop(th.Tid)
	return false
}

func (s *Session) onStepOut(th *Thread, addr uint64) bool {
	s.bps.CancelStepOut()
	s.logErr(th.RewindPC())

	// 停在ret指令处，返回地址位于栈顶
	if !s.stepOutReturn {
		if _, ok := symbol.RetLength(textMemory{s}, addr); ok {
			if ret, err := s.returnAddress(th); err == nil {
				if err := s.bps.SetStepOut(ret); err == nil {
					s.stepOutReturn = true
					s.disposition = native.Handled
					return true
				}
			}
		}
	}

	s.stepOutReturn = false
	s.bps.steppingOut = false
	s.alwaysContinue = true
	s.stop(th.Tid)
	return false
}

func (s *Session) returnAddress(th *Thread) (uint64, error) {
	ctx, err := th.Context()
	if err != nil {
		return 0, err
	}
	return symbol.ReadUint64(processMemory{s}, ctx.Rsp)
}

func (s *Session) onSingleStep(ev native.Event) bool {
	th := s.thread(ev.Tid)
	s.bps.ResetIfNeeded()

	if s.requestBreak.Load() {
		return s.onBreakRequest(th)
	}
	if s.bps.singleInstruction {
		return s.handleSingleStep(th)
	}
	s.disposition = native.Handled
	return true
}

// onBreakRequest 响应RequestBreak、RequestSuspend，立即停止
func (s *Session) onBreakRequest(th *Thread) bool {
	s.requestBreak.Store(false)
	s.cancelSteps()
	s.bps.singleInstruction = false
	s.disposition = native.Handled
	s.alwaysContinue = true
	s.stop(th.Tid)

	if s.requestSuspend.CAS(true, false) {
		if err := s.tracer.SuspendThread(th.Tid); err != nil {
			s.logger.Errorf("suspend thread %d: %v", th.Tid, err)
			return false
		}
		s.suspended = th.Tid
		s.status = StatusSuspended
	}
	return false
}

// handleSingleStep 源码行未变化时继续单步，step over遇到call指令时在call之后设置断点
func (s *Session) handleSingleStep(th *Thread) bool {
	if s.steps.LineChanged(th.Tid) {
		s.bps.steppingOver = false
		s.bps.singleInstruction = false
		s.alwaysContinue = true
		s.stop(th.Tid)
		return false
	}

	s.disposition = native.Handled
	if s.bps.steppingOver {
		if pc, err := th.PC(); err == nil {
			if n, ok := symbol.CallLength(textMemory{s}, pc); ok {
				if err := s.bps.SetStepOver(pc + uint64(n)); err == nil {
					s.bps.singleInstruction = false
					return true
				}
				s.logger.Errorf("set step over breakpoint at %#x: %v", pc+uint64(n), err)
			}
		}
	}
	s.logErr(th.SetTrapFlag())
	s.bps.singleInstruction = true
	return true
}
