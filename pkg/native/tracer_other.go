//go:build !(linux && amd64)

package native

type unsupportedTracer struct{}

// New returns a Tracer failing every request, only linux/amd64 is supported.
func New(opts Options) Tracer {
	return unsupportedTracer{}
}

func (unsupportedTracer) Launch(path string, args []string) (Process, error) {
	return Process{}, ErrUnsupported
}

func (unsupportedTracer) WaitEvent() (Event, error) { return Event{}, ErrUnsupported }
func (unsupportedTracer) Continue(pid, tid int, d Disposition) error { return ErrUnsupported }
func (unsupportedTracer) SuspendThread(tid int) error { return ErrUnsupported }
func (unsupportedTracer) ResumeThread(tid int) error { return ErrUnsupported }
func (unsupportedTracer) Interrupt(tid int) error { return ErrUnsupported }
func (unsupportedTracer) GetContext(tid int) (*Context, error) { return nil, ErrUnsupported }
func (unsupportedTracer) SetContext(tid int, ctx *Context) error { return ErrUnsupported }
func (unsupportedTracer) Kill() error { return nil }
func (unsupportedTracer) Close() error { return nil }

func (unsupportedTracer) ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	return 0, ErrUnsupported
}

func (unsupportedTracer) WriteMemory(pid int, addr uint64, data []byte) (int, error) {
	return 0, ErrUnsupported
}
