package debug

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

// maxInstLen x86 指令最大长度
const maxInstLen = 15

var disassCmd = &cobra.Command{
	Use:   "disass [address]",
	Short: "反汇编机器指令",
	Long: `反汇编机器指令，默认从当前PC处开始.

断点处显示的是原始指令，而非0xCC.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	Aliases: []string{"dis", "disassemble"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			max, _    = cmd.Flags().GetInt("max")
			syntax, _ = cmd.Flags().GetString("syntax")
		)
		if max <= 0 {
			max = CurrentSession.cfg.DisassCount
		}
		if syntax == "" {
			syntax = CurrentSession.cfg.DisassSyntax
		}

		var addr uint64
		if len(args) != 0 {
			v, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			addr = v
		}

		var dat []byte
		err := CurrentSession.engine.Do(func(s *target.Session) error {
			if addr == 0 {
				ctx, err := s.Registers(0)
				if err != nil {
					return err
				}
				addr = ctx.Rip
			}
			var err error
			dat, err = s.ReadMemory(addr, max*maxInstLen)
			return err
		})
		if err != nil {
			return err
		}
		return disassemble(os.Stdout, addr, dat, max, syntax)
	},
}

func init() {
	debugRootCmd.AddCommand(disassCmd)

	disassCmd.Flags().IntP("max", "n", 0, "反汇编指令数量")
	disassCmd.Flags().StringP("syntax", "s", "", "反汇编指令语法，支持：go, gnu, intel")
}

// disassemble 反汇编地址addr处的指令数据dat，最多max条
func disassemble(w io.Writer, addr uint64, dat []byte, max int, syntax string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 8, ' ', 0)

	offset := 0
	for count := 0; count < max && offset < len(dat); count++ {
		inst, err := x86asm.Decode(dat[offset:], 64)
		if err != nil {
			if count == 0 {
				return fmt.Errorf("x86asm decode error: %v", err)
			}
			break
		}

		asm, err := instSyntax(inst, addr+uint64(offset), syntax)
		if err != nil {
			return fmt.Errorf("x86asm syntax error: %v", err)
		}

		end := offset + inst.Len
		fmt.Fprintf(tw, "%#x:\t% x\t%s\n", addr+uint64(offset), dat[offset:end], asm)
		offset = end
	}
	return tw.Flush()
}

func instSyntax(inst x86asm.Inst, pc uint64, syntax string) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, pc, nil)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, pc, nil)
	case "intel":
		asm = x86asm.IntelSyntax(inst, pc, nil)
	default:
		return "", fmt.Errorf("invalid asm syntax: %s", syntax)
	}
	return asm, nil
}
