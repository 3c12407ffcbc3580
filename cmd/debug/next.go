package debug

import (
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var nextCmd = &cobra.Command{
	Use:     "next",
	Short:   "执行到下一行源码，不进入函数调用",
	Aliases: []string{"n"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.exec(target.OpStepOver, false)
	},
}

func init() {
	debugRootCmd.AddCommand(nextCmd)
}
