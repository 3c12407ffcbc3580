package debug

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "挂起用户线程",
	Long: `挂起用户线程，被调试进程正在后台运行时先中断它.

挂起的线程通过resume或continue恢复执行.`,
	Annotations: map[string]string{
		cmdGroupAnnotation:   cmdGroupCtrlFlow,
		cmdRunningAnnotation: "",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		running := CurrentSession.engine.Running()
		if err := CurrentSession.engine.Suspend(); err != nil {
			return err
		}
		if running {
			CurrentSession.wait()
			return nil
		}
		st := CurrentSession.engine.State()
		fmt.Printf("thread %d %s\n", st.StoppedTid, st.Status)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [-b]",
	Short: "恢复挂起的用户线程",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		background, err := cmd.Flags().GetBool("background")
		if err != nil {
			return err
		}
		if CurrentSession.engine.State().Status != target.StatusSuspended {
			return fmt.Errorf("thread is not suspended")
		}
		CurrentSession.exec(target.OpResume, background)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(suspendCmd)
	debugRootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().BoolP("background", "b", false, "在后台运行")
}
