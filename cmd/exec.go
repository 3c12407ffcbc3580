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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/srcdbg/cmd/debug"
	"github.com/hitzhangjie/srcdbg/pkg/native"
	"github.com/hitzhangjie/srcdbg/pkg/symbol"
	"github.com/hitzhangjie/srcdbg/pkg/target"
)

// activeEngine 当前调试会话的引擎，供信号处理使用
var activeEngine atomic.Value

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <prog> [args...]",
	Short: "调试可执行程序",
	Long: `调试可执行程序，程序启动后停在入口函数处.

程序及参数也可以作为一个整体传入，按照shell的规则切分，如：
  srcdbg exec "./prog -v 'hello world'"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prog, progArgs := args[0], args[1:]
		if len(args) == 1 && strings.ContainsAny(args[0], " \t") {
			argv, err := debug.SplitCommandLine(args[0])
			if err != nil {
				return err
			}
			prog, progArgs = argv[0], argv[1:]
		}
		return runDebugSession(prog, progArgs)
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}

// runDebugSession 启动被调试进程并运行调试shell，shell退出后杀死被调试进程
func runDebugSession(prog string, args []string) error {
	prog, err := filepath.Abs(prog)
	if err != nil {
		return err
	}

	resolver := symbol.NewResolver(
		symbol.WithCacheSize(cfg.LineCacheSize),
		symbol.WithDenyPrefixes(cfg.DenyPrefixes...),
		symbol.WithEntryFile(cfg.EntryFile),
	)
	sess := target.NewSession(native.New(native.Options{}), resolver, target.Options{
		EntryFunctions: cfg.EntryFunctions(),
		StopOnEntry:    cfg.StopOnEntry,
	})
	engine := target.NewEngine(sess)
	activeEngine.Store(engine)
	defer func() {
		if err := engine.Shutdown(); err != nil {
			fmt.Printf("shutdown engine: %v\n", err)
		}
		activeEngine.Store((*target.Engine)(nil))
	}()

	if err := engine.Do(func(s *target.Session) error { return s.Start(prog, args) }); err != nil {
		return err
	}
	fmt.Printf("process %d started: %s\n", engine.State().MainTid, prog)

	shell := debug.NewDebugSession(engine, cfg)
	shell.Run()
	return nil
}

func currentEngine() *target.Engine {
	e, _ := activeEngine.Load().(*target.Engine)
	return e
}

// Interrupt 中断正在运行的被调试进程
func Interrupt() {
	if e := currentEngine(); e != nil {
		e.RequestBreak()
	}
}

// Cleanup 杀死被调试进程，删除debug命令构建的可执行程序
func Cleanup() {
	if e := currentEngine(); e != nil {
		if err := e.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown engine: %v\n", err)
		}
	}
	os.RemoveAll(BuildExecName)
}
