package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// 退出码：0 成功；1 运行失败；2 用法错误。
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// runFailure 表示运行失败且信息已经输出（report/stderr），main 只负责换算退出码。
type runFailure struct {
	code string
}

func (e *runFailure) Error() string { return "运行失败：" + e.code }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var rf *runFailure
	if errors.As(err, &rf) {
		return exitFailure
	}
	fmt.Fprintf(stderr, "参数错误：%v\n使用 \"bundlerank --help\" 查看用法。\n", err)
	return exitUsage
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "bundlerank",
		Short:         "按 OpenCritic 评分给 itch.io bundle 里的游戏排序",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newExtractCommand())
	root.AddCommand(newShowCommand())
	return root
}

// isTTY 只把真实终端视为交互输出；测试里的 buffer 一律按非 TTY 处理。
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func getwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("读取当前目录失败：%w", err)
	}
	return cwd, nil
}
