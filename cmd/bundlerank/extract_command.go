package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/bundlerank/internal/app/run"
	"github.com/John-Robertt/bundlerank/internal/catalog"
	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/fsx"
	"github.com/John-Robertt/bundlerank/internal/snapshot"
)

func newExtractCommand() *cobra.Command {
	var (
		configPath string
		outDir     string
		toStdout   bool
	)

	cmd := &cobra.Command{
		Use:   "extract [input.html]",
		Short: "只提取游戏列表（不联网），写出 all_games.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

			cwd, err := getwd()
			if err != nil {
				return err
			}
			cli := config.CLIArgs{ConfigPath: configPath, OutDir: outDir}
			if len(args) == 1 {
				cli.Input = args[0]
			}
			eff, err := config.LoadEffective(cwd, cli)
			if err != nil {
				fmt.Fprintln(stderr, err)
				return &runFailure{code: config.Code(err)}
			}

			records, err := catalog.ExtractFile(eff.Input)
			if err != nil {
				code, msg := run.ClassifyExtract(eff.Input, err)
				fmt.Fprintf(stderr, "%s: %s\n", code, msg)
				return &runFailure{code: code}
			}

			if toStdout {
				if err := snapshot.WriteTo(stdout, records); err != nil {
					return &runFailure{code: domain.ErrCodeIOFailed}
				}
				return nil
			}

			lock, err := fsx.TryLock(eff.OutDir)
			if err != nil {
				fmt.Fprintln(stderr, err)
				if errors.Is(err, fsx.ErrLocked) {
					return &runFailure{code: domain.ErrCodeLocked}
				}
				return &runFailure{code: domain.ErrCodeIOFailed}
			}
			defer lock.Unlock()

			if err := snapshot.Write(eff.RawPath, records); err != nil {
				fmt.Fprintf(stderr, "%s: %s\n", domain.ErrCodeIOFailed, run.DescribeWriteError(eff.RawPath, err))
				return &runFailure{code: domain.ErrCodeIOFailed}
			}
			fmt.Fprintf(stderr, "已提取 %d 个游戏：%s\n", len(records), eff.RawPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "配置文件路径（默认尝试 ./bundlerank.toml）")
	f.StringVarP(&outDir, "out", "o", "", "输出目录（默认当前目录）")
	f.BoolVar(&toStdout, "stdout", false, "把结果打印到 stdout 而不是写文件")
	return cmd
}
