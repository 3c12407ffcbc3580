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
	"os/exec"

	"github.com/spf13/cobra"
)

const (
	BuildExecName = "./__debug_bin__"
)

// debugCmd represents the debug command
var debugCmd = &cobra.Command{
	Use:   "debug [package] [-- args...]",
	Short: "构建并调试go程序",
	Long: `构建并调试go程序，构建时关闭优化和内联.

入口函数默认为main.main.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkgs, progArgs := []string{"."}, []string{}
		if n := cmd.ArgsLenAtDash(); n >= 0 {
			if n > 0 {
				pkgs = args[:n]
			}
			progArgs = args[n:]
		} else if len(args) != 0 {
			pkgs = args
		}

		cmdArgs := []string{"build", "-gcflags=all=-N -l", "-o", BuildExecName}
		cmdArgs = append(cmdArgs, pkgs...)
		buildCmd := exec.Command("go", cmdArgs...)

		if buf, err := buildCmd.CombinedOutput(); err != nil {
			fmt.Fprintf(os.Stderr, "build error: %v\n", err)
			fmt.Fprintf(os.Stderr, "\terrmsg: %s\n", string(buf))
			return err
		}
		fmt.Printf("build ok\n")
		defer os.RemoveAll(BuildExecName)

		return runDebugSession(BuildExecName, progArgs)
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
}
