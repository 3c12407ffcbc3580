package debug

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "列出被调试进程的线程",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var tids []int
		err := CurrentSession.engine.Do(func(s *target.Session) error {
			tids = s.Threads()
			return nil
		})
		if err != nil {
			return err
		}

		st := CurrentSession.engine.State()
		for _, tid := range tids {
			mark := " "
			if tid == st.StoppedTid {
				mark = "*"
			}
			desc := ""
			switch tid {
			case st.MainTid:
				desc = "main"
			case st.UserTid:
				desc = "user"
			}
			fmt.Printf("%s %d\t%s\n", mark, tid, desc)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(threadsCmd)
}
