package debug

import (
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var stepCmd = &cobra.Command{
	Use:     "step",
	Short:   "执行到下一行源码，遇到函数调用时进入函数",
	Aliases: []string{"s"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.exec(target.OpStepIn, false)
	},
}

func init() {
	debugRootCmd.AddCommand(stepCmd)
}
