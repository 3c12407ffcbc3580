package debug

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var breakCmd = &cobra.Command{
	Use:   "break <locspec>",
	Short: "在源码中添加断点",
	Long: `在源码中添加断点，源码位置可以通过locspec格式指定。

当前支持的locspec格式:
- 指令地址，如0x401000
- 文件名:行号，如main.c:10
- 行号，文件为入口函数所在的源文件
- 函数名，如main`,
	Aliases: []string{"b", "breakpoint"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: break <locspec>")
		}
		locStr := args[0]

		var bp *target.Breakpoint
		err := CurrentSession.engine.Do(func(s *target.Session) error {
			var err error
			bp, err = setBreakpoint(s, locStr)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("breakpoint %d set at %#x %s\n", bp.ID, bp.Addr, bp.Pos)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(breakCmd)
}

// setBreakpoint 按照locspec添加断点
func setBreakpoint(s *target.Session, locStr string) (*target.Breakpoint, error) {
	// try parse as address
	if addr, err := parseAddress(locStr); err == nil {
		return s.SetBreakpoint(addr)
	}

	// try parse as file:lineno
	if strings.Contains(locStr, ":") {
		file, lineno, err := parseFileLineno(locStr)
		if err != nil {
			return nil, err
		}
		return s.SetBreakpointAtLine(file, lineno)
	}

	// try parse as lineno of entry file
	if lineno, err := strconv.Atoi(locStr); err == nil {
		file := s.Resolver().EntryFile()
		if file == "" {
			return nil, fmt.Errorf("no entry file, use file:lineno instead")
		}
		return s.SetBreakpointAtLine(file, lineno)
	}

	return s.SetBreakpointAtFunc(locStr)
}

func parseAddress(locStr string) (uint64, error) {
	if !strings.HasPrefix(locStr, "0x") && !strings.HasPrefix(locStr, "0X") {
		return 0, fmt.Errorf("invalid address: %s", locStr)
	}
	v, err := strconv.ParseUint(locStr, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %v", err)
	}
	return v, nil
}
