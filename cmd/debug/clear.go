package debug

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var clearCmd = &cobra.Command{
	Use:   "clear <breakpoint no.|address>",
	Short: "清除指定编号或位置的断点",
	Long: `清除指定编号或位置的断点.

参数为数字时表示断点编号，也可以通过-n指定编号，
参数为地址时清除该地址处的断点.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := cmd.Flags().GetUint64("n")
		if err != nil {
			return err
		}

		var addr uint64
		switch {
		case len(args) > 1:
			return errors.New("usage: clear <breakpoint no.|address>")
		case len(args) == 1:
			if v, err := parseAddress(args[0]); err == nil {
				addr = v
			} else if v, err := strconv.ParseUint(args[0], 10, 64); err == nil {
				id = v
			} else {
				return fmt.Errorf("invalid breakpoint: %s", args[0])
			}
		case id == 0:
			return errors.New("usage: clear <breakpoint no.|address>")
		}

		var bp *target.Breakpoint
		err = CurrentSession.engine.Do(func(s *target.Session) error {
			var err error
			if addr != 0 {
				bp, err = s.ClearBreakpoint(addr)
			} else {
				bp, err = s.ClearBreakpointByID(id)
			}
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("breakpoint %d cleared at %#x\n", bp.ID, bp.Addr)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearCmd)

	clearCmd.Flags().Uint64P("n", "n", 0, "断点编号")
}
