package debug

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var breaksCmd = &cobra.Command{
	Use:     "breaks",
	Short:   "列出所有断点",
	Long:    "列出所有断点",
	Aliases: []string{"bs", "breakpoints"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var bps target.Breakpoints
		err := CurrentSession.engine.Do(func(s *target.Session) error {
			bps = s.Breakpoints()
			return nil
		})
		if err != nil {
			return err
		}
		if len(bps) == 0 {
			fmt.Println("no breakpoints")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "ID\tADDR\tPOS\n")
		for _, b := range bps {
			fmt.Fprintf(tw, "%d\t%#x\t%s\n", b.ID, b.Addr, b.Pos)
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(breaksCmd)
}
