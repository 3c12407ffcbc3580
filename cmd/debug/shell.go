package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hitzhangjie/srcdbg/pkg/config"
	"github.com/hitzhangjie/srcdbg/pkg/source"
	"github.com/hitzhangjie/srcdbg/pkg/target"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"
	// commands annotated with cmdRunningAnnotation are allowed while the
	// debuggee runs
	cmdRunningAnnotation = "cmd_running_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupSource      = "2-source"
	cmdGroupCtrlFlow    = "3-execute"
	cmdGroupInfo        = "4-info"
	cmdGroupOthers      = "5-other"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"

	descShort = "srcdbg interactive debugging commands"
)

var errRunning = errors.New("debuggee is running, pause it first")

var debugRootCmd = &cobra.Command{
	Use:           "help [command]",
	Short:         descShort,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		CurrentSession.collect()
		if _, ok := cmd.Annotations[cmdRunningAnnotation]; ok || cmd.Name() == "help" {
			return nil
		}
		if CurrentSession.engine.Running() {
			return errRunning
		}
		return nil
	},
}

var (
	CurrentSession *DebugSession
)

// DebugSession 调试会话
type DebugSession struct {
	done   chan bool
	prefix string
	root   *cobra.Command
	liner  *liner.State
	last   string

	engine  *target.Engine
	cfg     *config.Config
	sources *source.Cache
	files   *trie.Trie   // source files, keyed by full path and base name
	pending <-chan error // result of an operation running in background
	tty     bool

	defers []func()
}

// NewDebugSession 创建一个debug专用的交互管理器
func NewDebugSession(engine *target.Engine, cfg *config.Config) *DebugSession {

	fn := func(cmd *cobra.Command, args []string) {
		// 描述信息
		fmt.Println(cmd.Short)
		fmt.Println()

		// 使用信息
		fmt.Println(cmd.Use)
		fmt.Println(cmd.Flags().FlagUsages())

		// 命令分组
		usage := helpMessageByGroups(cmd)
		fmt.Println(usage)
	}
	debugRootCmd.SetHelpFunc(fn)

	CurrentSession = &DebugSession{
		done:    make(chan bool),
		prefix:  cfg.Prompt,
		root:    debugRootCmd,
		liner:   liner.NewLiner(),
		last:    "",
		engine:  engine,
		cfg:     cfg,
		sources: source.NewCache(0),
		tty:     isatty.IsTerminal(os.Stdout.Fd()),
	}
	return CurrentSession
}

// Run 运行到入口函数，然后进入交互式调试
func (s *DebugSession) Run() {
	s.liner.SetCompleter(completer)
	s.liner.SetTabCompletionStyle(liner.TabPrints)
	s.liner.SetCtrlCAborts(true)

	defer func() {
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	}()

	s.printStop(s.engine.Exec(target.OpGo))

	for {
		select {
		case <-s.done:
			s.liner.Close()
			return
		default:
		}

		txt, err := s.liner.Prompt(s.prefix)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			s.liner.Close()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read command error: %v\n", err)
			s.liner.Close()
			return
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.liner.AppendHistory(txt)
		} else {
			txt = s.last
		}
		if txt == "" {
			continue
		}

		resetFlags(s.root)
		s.root.SetArgs(strings.Fields(txt))
		if err := s.root.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

func (s *DebugSession) Stop() {
	close(s.done)
}

// resetFlags restores flag defaults, cobra keeps values between executions.
func resetFlags(root *cobra.Command) {
	for _, c := range root.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				f.Value.Set(f.DefValue)
				f.Changed = false
			}
		})
	}
}

// exec 执行控制操作并打印停止位置，background为true时不等待操作完成
func (s *DebugSession) exec(kind target.OpKind, background bool) {
	ch := s.engine.Post(kind)
	if background {
		s.pending = ch
		fmt.Println("running")
		return
	}
	s.printStop(<-ch)
}

// wait 等待后台执行的操作完成
func (s *DebugSession) wait() {
	if s.pending == nil {
		return
	}
	ch := s.pending
	s.pending = nil
	s.printStop(<-ch)
}

// collect 打印已经完成的后台操作
func (s *DebugSession) collect() {
	if s.pending == nil {
		return
	}
	select {
	case err := <-s.pending:
		s.pending = nil
		s.printStop(err)
	default:
	}
}

// printStop 打印被调试进程停止的原因及位置
func (s *DebugSession) printStop(err error) {
	if err != nil && err != target.ErrSuperseded {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}

	st := s.engine.State()
	if !st.Attached {
		fmt.Printf("process exited with code %d\n", st.ExitCode)
		return
	}
	if st.Exception != "" {
		fmt.Printf("thread %d raised %s\n", st.StoppedTid, st.Exception)
	}
	if st.Line == 0 {
		fmt.Printf("thread %d %s, no source line\n", st.StoppedTid, st.Status)
		return
	}
	fmt.Printf("thread %d %s at %s:%d\n", st.StoppedTid, st.Status, st.File, st.Line)
	if err := s.listFileLines(st.File, st.Line, s.cfg.ListRange); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}

// loadSourceFiles 加载源文件列表用于自动补全
func (s *DebugSession) loadSourceFiles() []string {
	var files []string
	s.engine.Do(func(sess *target.Session) error {
		files = sess.Resolver().SourceFiles()
		return nil
	})

	s.files = trie.New()
	for _, f := range files {
		s.files.Add(f, f)
		if _, ok := s.files.Find(filepath.Base(f)); !ok {
			s.files.Add(filepath.Base(f), f)
		}
	}
	return files
}

func completer(line string) []string {
	cmds := []string{}

	// complete source file of break and list
	if idx := strings.LastIndex(line, " "); idx > 0 {
		name := strings.Fields(line)[0]
		if name != "break" && name != "b" && name != "list" && name != "l" {
			return cmds
		}
		s := CurrentSession
		if s == nil || s.engine.Running() {
			return cmds
		}
		if s.files == nil {
			s.loadSourceFiles()
		}
		for _, f := range s.files.PrefixSearch(line[idx+1:]) {
			cmds = append(cmds, line[:idx+1]+f)
		}
		sort.Strings(cmds)
		return cmds
	}

	for _, c := range debugRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
	}
	return cmds
}

// SplitCommandLine 按照shell的规则切分命令行
func SplitCommandLine(cmdline string) ([]string, error) {
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 || len(v[0]) == 0 {
		return nil, fmt.Errorf("illegal commandline '%s'", cmdline)
	}
	return v[0], nil
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		var groupName string
		v, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		} else {
			groupName = v
		}

		groupCmds := groups[groupName]
		groupCmds = append(groupCmds, fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)

		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range commands {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
