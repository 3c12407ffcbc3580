package debug

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/target"
)

var setRegCmd = &cobra.Command{
	Use:   "setreg <reg> <value>",
	Short: "设置寄存器值",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 检查参数数量
		if len(args) != 2 {
			return errors.New("usage: setreg <reg> <value>")
		}
		tid, err := cmd.Flags().GetInt("thread")
		if err != nil {
			return err
		}

		regName := strings.ToLower(args[0])
		valueStr := args[1]

		// 解析值参数
		value, err := strconv.ParseUint(valueStr, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid value format: %s", valueStr)
		}

		err = CurrentSession.engine.Do(func(s *target.Session) error {
			return s.SetRegister(tid, regName, value)
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s = %#x\n", regName, value)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(setRegCmd)

	setRegCmd.Flags().IntP("thread", "t", 0, "线程ID，默认为当前线程")
}
