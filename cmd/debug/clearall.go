package debug

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var clearallCmd = &cobra.Command{
	Use:   "clearall",
	Short: "清除所有的断点",
	Long:  `清除所有的断点`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		err := CurrentSession.engine.Do(func(s *target.Session) error {
			s.ClearAllBreakpoints()
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Println("all breakpoints cleared")
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearallCmd)
}
