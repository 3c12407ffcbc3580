package debug

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var setMemCmd = &cobra.Command{
	Use:   "setmem <addr> <value>",
	Short: "设置指定内存位置的值",
	Long: `设置指定内存位置的值，值按照小端字节序写入.

通过-s指定写入的字节数，支持1、2、4、8.`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 检查参数数量
		if len(args) != 2 {
			return errors.New("usage: setmem <addr> <value>")
		}
		size, err := cmd.Flags().GetInt("size")
		if err != nil {
			return err
		}

		// 解析地址参数
		addrStr := args[0]
		addr, err := strconv.ParseUint(addrStr, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address format: %s", addrStr)
		}

		// 解析值参数
		valueStr := args[1]
		value, err := strconv.ParseUint(valueStr, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid value format: %s", valueStr)
		}

		data, err := encodeValue(value, size)
		if err != nil {
			return err
		}

		var old []byte
		err = CurrentSession.engine.Do(func(s *target.Session) error {
			var err error
			// 读取当前内存值用于显示
			if old, err = s.ReadMemory(addr, len(data)); err != nil {
				return err
			}
			return s.WriteMemory(addr, data)
		})
		if err != nil {
			return err
		}
		fmt.Printf("%#x: % x => % x\n", addr, old, data)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(setMemCmd)

	setMemCmd.Flags().IntP("size", "s", 1, "写入的字节数")
}

// encodeValue 将value按照小端字节序编码为size字节
func encodeValue(value uint64, size int) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)

	switch size {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("invalid size: %d", size)
	}
	if size < 8 && value>>(uint(size)*8) != 0 {
		return nil, fmt.Errorf("value %#x overflows %d bytes", value, size)
	}
	return buf[:size], nil
}
