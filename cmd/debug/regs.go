package debug

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/native"
	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var regsCmd = &cobra.Command{
	Use:     "regs [reg...]",
	Short:   "打印寄存器值",
	Aliases: []string{"registers"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		tid, err := cmd.Flags().GetInt("thread")
		if err != nil {
			return err
		}

		var ctx *native.Context
		err = CurrentSession.engine.Do(func(s *target.Session) error {
			var err error
			ctx, err = s.Registers(tid)
			return err
		})
		if err != nil {
			return err
		}

		want := map[string]bool{}
		for _, r := range args {
			want[strings.ToLower(r)] = true
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		values := target.RegisterValues(ctx)
		for i, name := range target.RegisterNames() {
			if len(want) != 0 && !want[name] {
				continue
			}
			fmt.Fprintf(tw, "%s\t%#016x\t%d\n", name, values[i], values[i])
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(regsCmd)

	regsCmd.Flags().IntP("thread", "t", 0, "线程ID，默认为当前线程")
}
