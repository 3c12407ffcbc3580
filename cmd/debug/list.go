package debug

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

const markerColor = "\x1b[32m%-4s\x1b[0m"

var listCmd = &cobra.Command{
	Use:   "list [linespec]",
	Short: "查看源码信息",
	Long: `查看源码信息，默认显示当前停止位置附近的源码.

linespec支持:
- 文件名:行号
- 行号，文件为入口函数所在的源文件
- 函数名`,
	Aliases: []string{"l"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		rng, err := cmd.Flags().GetInt("range")
		if err != nil {
			return err
		}
		if rng <= 0 {
			rng = CurrentSession.cfg.ListRange
		}

		var (
			file   string
			lineno int
		)
		if len(args) != 0 {
			err = CurrentSession.engine.Do(func(s *target.Session) error {
				var err error
				file, lineno, err = resolveLinespec(s, args[0])
				return err
			})
			if err != nil {
				return err
			}
		} else {
			st := CurrentSession.engine.State()
			if st.Line == 0 {
				return fmt.Errorf("no current source line")
			}
			file, lineno = st.File, st.Line
		}

		return CurrentSession.listFileLines(file, lineno, rng)
	},
}

func init() {
	debugRootCmd.AddCommand(listCmd)

	listCmd.Flags().IntP("range", "r", 0, "显示指定行前后的行数")
}

// resolveLinespec 解析linespec为源文件位置
func resolveLinespec(s *target.Session, spec string) (string, int, error) {
	if strings.Contains(spec, ":") {
		return parseFileLineno(spec)
	}
	if lineno, err := strconv.Atoi(spec); err == nil {
		file := s.Resolver().EntryFile()
		if file == "" {
			return "", 0, fmt.Errorf("no entry file, use file:lineno instead")
		}
		return file, lineno, nil
	}

	addr, err := s.Resolver().FindAddress(spec)
	if err != nil {
		return "", 0, err
	}
	li, ok := s.Resolver().SourceLine(addr)
	if !ok {
		return "", 0, fmt.Errorf("no source line for %s", spec)
	}
	return li.File, li.Line, nil
}

// listFileLines 打印lineno前后rng行源码，当前停止的行用=>标记
func (s *DebugSession) listFileLines(file string, lineno, rng int) error {
	lines, first, err := s.sources.Range(file, lineno, rng)
	if err != nil {
		return fmt.Errorf("list file err: %v", err)
	}

	st := s.engine.State()
	idx := first
	for _, ln := range lines {
		switch {
		case idx == st.Line && file == st.File && s.tty:
			fmt.Printf(markerColor+"\t%d\t%s\n", "=>", idx, ln)
		case idx == st.Line && file == st.File:
			fmt.Printf("%-4s\t%d\t%s\n", "=>", idx, ln)
		default:
			fmt.Printf("%-4s\t%d\t%s\n", "", idx, ln)
		}
		idx++
	}
	return nil
}

// must be form file:lineno, like main.c:100
func parseFileLineno(s string) (file string, lineno int, err error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		err = fmt.Errorf("invalid location: %s, must be file:lineno", s)
		return
	}

	file = s[:idx]
	v, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil || v <= 0 {
		err = fmt.Errorf("invalid location: %s, must be file:lineno", s)
		return
	}
	lineno = int(v)
	return
}
