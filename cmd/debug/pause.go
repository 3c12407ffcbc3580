package debug

import (
	"errors"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:     "pause",
	Short:   "中断后台运行的被调试进程",
	Aliases: []string{"break-in"},
	Annotations: map[string]string{
		cmdGroupAnnotation:   cmdGroupCtrlFlow,
		cmdRunningAnnotation: "",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !CurrentSession.engine.Running() {
			return errors.New("debuggee is not running")
		}
		if err := CurrentSession.engine.RequestBreak(); err != nil {
			return err
		}
		CurrentSession.wait()
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(pauseCmd)
}
