package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/rank"
	"github.com/John-Robertt/bundlerank/internal/snapshot"
)

func newShowCommand() *cobra.Command {
	var (
		configPath string
		limit      int
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "show [games.json]",
		Short: "以表格形式展示排序结果",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

			var path string
			if len(args) == 1 {
				p, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				path = p
			} else {
				cwd, err := getwd()
				if err != nil {
					return err
				}
				eff, err := config.LoadEffective(cwd, config.CLIArgs{ConfigPath: configPath})
				if err != nil {
					fmt.Fprintln(stderr, err)
					return &runFailure{code: config.Code(err)}
				}
				path = eff.FinalPath
			}

			records, err := snapshot.Read(path)
			if err != nil {
				fmt.Fprintln(stderr, err)
				return &runFailure{code: domain.ErrCodeIOFailed}
			}

			// 文件可能被手工编辑过：展示前重新排序。
			ranked := rank.ByScore(records)
			if !all {
				ranked = matchedOnly(ranked)
			}
			hidden := len(records) - len(ranked)
			if limit > 0 {
				ranked = rank.Top(ranked, limit)
			}

			if len(ranked) == 0 {
				fmt.Fprintln(stdout, "没有可展示的游戏")
			} else {
				fmt.Fprintln(stdout, renderGames(ranked, 1))
			}
			fmt.Fprintln(stdout, showFooter(len(records), hidden))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "配置文件路径（默认尝试 ./bundlerank.toml）")
	f.IntVarP(&limit, "limit", "n", 20, "最多展示条数（<=0 表示全部）")
	f.BoolVar(&all, "all", false, "包含未匹配的游戏")
	return cmd
}

func showFooter(total, hidden int) string {
	if hidden > 0 {
		return fmt.Sprintf("共 %d 个游戏，%d 个未匹配已隐藏（--all 显示）", total, hidden)
	}
	return fmt.Sprintf("共 %d 个游戏", total)
}
