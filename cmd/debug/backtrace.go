package debug

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var backtraceCmd = &cobra.Command{
	Use:     "bt",
	Short:   "打印调用栈信息",
	Aliases: []string{"backtrace"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, err := cmd.Flags().GetInt("depth")
		if err != nil {
			return err
		}

		var frames []target.Frame
		err = CurrentSession.engine.Do(func(s *target.Session) error {
			var err error
			frames, err = s.Backtrace(depth)
			return err
		})
		if err != nil {
			return err
		}

		for idx, f := range frames {
			fn := f.Func
			if fn == "" {
				fn = "??"
			}
			if f.Line.Line == 0 {
				fmt.Printf("#%d %#x call:%s\n", idx, f.PC, fn)
				continue
			}
			fmt.Printf("#%d %#x call:%s pos:%s\n", idx, f.PC, fn, f.Line)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(backtraceCmd)

	backtraceCmd.Flags().IntP("depth", "n", 32, "最多显示的栈帧数")
}
