package debug

import (
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var finishCmd = &cobra.Command{
	Use:     "finish",
	Short:   "执行到当前函数返回",
	Aliases: []string{"fin", "stepout"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.exec(target.OpStepOut, false)
	},
}

func init() {
	debugRootCmd.AddCommand(finishCmd)
}
