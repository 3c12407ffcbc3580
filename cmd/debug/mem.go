package debug

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

const bytesPerLine = 16

var memCmd = &cobra.Command{
	Use:     "mem <addr>",
	Short:   "查看指定内存位置的数据",
	Aliases: []string{"x"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: mem <addr>")
		}
		n, err := cmd.Flags().GetInt("count")
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("invalid count: %d", n)
		}

		addr, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address format: %s", args[0])
		}

		var dat []byte
		err = CurrentSession.engine.Do(func(s *target.Session) error {
			var err error
			dat, err = s.ReadMemory(addr, n)
			return err
		})
		if err != nil {
			return err
		}
		hexdump(os.Stdout, addr, dat)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(memCmd)

	memCmd.Flags().IntP("count", "n", 64, "读取的字节数")
}

// hexdump 按照每行16字节打印内存数据
func hexdump(w io.Writer, addr uint64, dat []byte) {
	for off := 0; off < len(dat); off += bytesPerLine {
		end := off + bytesPerLine
		if end > len(dat) {
			end = len(dat)
		}
		line := dat[off:end]

		var ascii strings.Builder
		for _, b := range line {
			if b >= 0x20 && b < 0x7f {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		fmt.Fprintf(w, "%#016x:  %-47s  |%s|\n", addr+uint64(off), fmt.Sprintf("% x", line), ascii.String())
	}
}
