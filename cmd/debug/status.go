package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看被调试进程的状态",
	Annotations: map[string]string{
		cmdGroupAnnotation:   cmdGroupInfo,
		cmdRunningAnnotation: "",
	},
	Run: func(cmd *cobra.Command, args []string) {
		showOutput, _ := cmd.Flags().GetBool("output")

		st := CurrentSession.engine.State()
		switch {
		case !st.Attached:
			fmt.Printf("no process, last exit code %d\n", st.ExitCode)
		case st.Running:
			fmt.Printf("process %d running\n", st.MainTid)
		default:
			fmt.Printf("process %d %s, thread %d at %s:%d\n", st.MainTid, st.Status, st.StoppedTid, st.File, st.Line)
		}
		if st.Exception != "" {
			fmt.Printf("last exception: %s\n", st.Exception)
		}
		if showOutput && st.Output != "" {
			fmt.Print(st.Output)
		}
	},
}

func init() {
	debugRootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolP("output", "o", false, "打印被调试进程的调试输出")
}
