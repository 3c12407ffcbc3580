package debug

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var restartCmd = &cobra.Command{
	Use:   "restart [args...]",
	Short: "重新启动被调试进程",
	Long: `杀死被调试进程并重新启动，运行到入口函数处.

指定参数时使用新的参数启动，参数按照shell的规则切分.`,
	Aliases: []string{"r"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var newArgs []string
		if len(args) != 0 {
			v, err := SplitCommandLine("prog " + strings.Join(args, " "))
			if err != nil {
				return err
			}
			newArgs = v[1:]
		}

		err := CurrentSession.engine.Do(func(s *target.Session) error {
			if newArgs != nil {
				s.SetArgs(newArgs)
			}
			return s.Restart()
		})
		if err != nil {
			return err
		}
		st := CurrentSession.engine.State()
		fmt.Printf("process %d restarted\n", st.MainTid)

		CurrentSession.exec(target.OpGo, false)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(restartCmd)
}
