package debug

import (
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var continueCmd = &cobra.Command{
	Use:   "continue [-b]",
	Short: "运行到下个断点",
	Long: `运行到下个断点、异常或者进程退出.

指定-b时在后台运行，可以通过pause或suspend命令暂停被调试进程.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	Aliases: []string{"c"},
	RunE: func(cmd *cobra.Command, args []string) error {
		background, err := cmd.Flags().GetBool("background")
		if err != nil {
			return err
		}
		CurrentSession.exec(target.OpGo, background)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(continueCmd)

	continueCmd.Flags().BoolP("background", "b", false, "在后台运行")
}
