/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/srcdbg/pkg/config"
	"github.com/hitzhangjie/srcdbg/pkg/logflags"
)

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "srcdbg",
	Short: "源码级调试器",
	Long: `srcdbg是一个源码级调试器，支持按源码行单步执行、断点、寄存器及内存查看.

调试信息读取自可执行程序的DWARF数据，单步执行限定在入口函数所在的源文件中.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		return logflags.Setup(cfg.Log, cfg.LogOutput, cfg.LogDest)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logflags.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.srcdbg.yaml)")
	fs.Bool("log", false, "enable debugger logging")
	fs.String("log-output", "", "comma separated list of layers that should log: session,breakpoint,symbol,native,engine")
	fs.String("log-dest", "", "write logs to the specified file instead of stderr")
	fs.String("entry", "main.main", "function the debuggee stops at first")
	fs.String("entry-file", "", "source file line stepping is restricted to (default is the entry function's)")
	fs.Bool("stop", true, "stop once the entry function is reached")
	fs.Int("line-cache", 4096, "number of resolved addresses kept in memory")
	fs.StringSlice("deny-prefix", nil, "extra symbol prefixes hidden from variable listings")

	if err := config.BindFlags(v, fs); err != nil {
		panic(err)
	}
}
