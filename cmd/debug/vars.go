package debug

import (
	"encoding/binary"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/symbol"
	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var varsCmd = &cobra.Command{
	Use:     "vars [-g|-l]",
	Short:   "打印全局变量或局部变量",
	Aliases: []string{"print", "p"},
	Long: `打印全局变量或局部变量，默认打印两者.

不超过8字节的变量按照小端字节序显示其值.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		globals, _ := cmd.Flags().GetBool("globals")
		locals, _ := cmd.Flags().GetBool("locals")
		if !globals && !locals {
			globals, locals = true, true
		}

		var (
			vars   []symbol.VariableDescriptor
			values []string
		)
		err := CurrentSession.engine.Do(func(s *target.Session) error {
			if globals {
				vars = append(vars, s.Globals()...)
			}
			if locals {
				v, err := s.Locals()
				if err != nil {
					return err
				}
				vars = append(vars, v...)
			}
			values = make([]string, len(vars))
			for i, v := range vars {
				values[i] = "?"
				if v.Size < 1 || v.Size > 8 || v.Address == 0 {
					continue
				}
				dat, err := s.ReadMemory(v.Address, int(v.Size))
				if err != nil || len(dat) != int(v.Size) {
					continue
				}
				values[i] = formatValue(dat)
			}
			return nil
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "NAME\tADDR\tSIZE\tTYPE\tVALUE\n")
		for i, v := range vars {
			fmt.Fprintf(tw, "%s\t%#x\t%d\t%#x\t%s\n", v.Name, v.Address, v.Size, v.TypeID, values[i])
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(varsCmd)

	varsCmd.Flags().BoolP("globals", "g", false, "只打印全局变量")
	varsCmd.Flags().BoolP("locals", "l", false, "只打印局部变量")
}

// formatValue 按照小端字节序将不超过8字节的数据格式化为整数
func formatValue(dat []byte) string {
	buf := make([]byte, 8)
	copy(buf, dat)
	v := binary.LittleEndian.Uint64(buf)
	return fmt.Sprintf("%d (%#x)", v, v)
}
