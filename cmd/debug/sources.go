package debug

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources [prefix]",
	Short: "列出源文件",
	Long:  "列出被调试程序的源文件，系统头文件及运行时库的源文件除外",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSource,
	},
	Run: func(cmd *cobra.Command, args []string) {
		files := CurrentSession.loadSourceFiles()
		for _, f := range files {
			if len(args) != 0 && !strings.Contains(f, args[0]) {
				continue
			}
			fmt.Println(f)
		}
	},
}

func init() {
	debugRootCmd.AddCommand(sourcesCmd)
}
