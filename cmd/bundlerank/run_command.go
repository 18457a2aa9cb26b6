package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/bundlerank/internal/app/run"
	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/logx"
	"github.com/John-Robertt/bundlerank/internal/rank"
)

// tableTopN 是交互终端下运行结束后展示的排行条数。
const tableTopN = 15

func newRunCommand() *cobra.Command {
	var (
		configPath  string
		outDir      string
		threshold   float64
		concurrency int
		emptySearch string
		dryRun      bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "run [input.html]",
		Short: "提取游戏列表、查询评分并写出 all_games.json / games.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cli := config.CLIArgs{
				ConfigPath:     configPath,
				OutDir:         outDir,
				Threshold:      threshold,
				ThresholdSet:   flags.Changed("threshold"),
				Concurrency:    concurrency,
				ConcurrencySet: flags.Changed("concurrency"),
				EmptySearch:    emptySearch,
				EmptySearchSet: flags.Changed("empty-search"),
				DryRun:         dryRun,
				Verbose:        verbose,
			}
			if len(args) == 1 {
				cli.Input = args[0]
			}
			return runPipeline(cmd, cli)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "配置文件路径（默认尝试 ./bundlerank.toml）")
	f.StringVarP(&outDir, "out", "o", "", "输出目录（默认当前目录）")
	f.Float64Var(&threshold, "threshold", 0, "接受匹配的最大 dist（默认 0.3）")
	f.IntVar(&concurrency, "concurrency", 0, "并发查询数（默认 1，即逐条串行）")
	f.StringVar(&emptySearch, "empty-search", "", "搜索结果为空时的策略：fail|skip（默认 fail）")
	f.BoolVar(&dryRun, "dry-run", false, "完整跑一遍但不写任何文件")
	f.BoolVarP(&verbose, "verbose", "v", false, "输出 debug 日志到 stderr")
	return cmd
}

func runPipeline(cmd *cobra.Command, cli config.CLIArgs) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cwd, err := getwd()
	if err != nil {
		return err
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		rr := reportForConfigError(cwd, cli, err)
		emitReport(stdout, stderr, rr, nil)
		return &runFailure{code: rr.ErrorCode}
	}

	log := logx.New(eff.LogLevel, stderr)
	defer func() { _ = log.Sync() }()

	ui := newPlainProgress(stderr)
	if isTTY(stderr) {
		ui = newProgressUI(stderr)
	}
	defer ui.Stop()

	res := run.ExecuteWithObserver(cmd.Context(), eff, ui, log)
	emitReport(stdout, stderr, res.Report, res.Ranked)
	if res.Report.Status != domain.StatusOK {
		return &runFailure{code: res.Report.ErrorCode}
	}
	return nil
}

// emitReport 遵守 stdout 契约：
// - stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON；摘要走 stderr
// - stdout 是 TTY：输出摘要 + 排行表；失败信息走 stderr
func emitReport(stdout, stderr io.Writer, rr domain.RunReport, ranked []domain.GameRecord) {
	summary := fmt.Sprintf("完成：total=%d matched=%d low_confidence=%d no_candidates=%d scored=%d",
		rr.Summary.Total, rr.Summary.Matched, rr.Summary.LowConfidence, rr.Summary.NoCandidates, rr.Summary.Scored,
	)

	if !isTTY(stdout) {
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(rr)
		fmt.Fprintln(stderr, summary)
		if rr.ErrorCode != "" {
			fmt.Fprintf(stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
		}
		return
	}

	fmt.Fprintln(stdout, summary)
	if rr.ErrorCode != "" {
		fmt.Fprintf(stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
		return
	}
	if top := rank.Top(matchedOnly(ranked), tableTopN); len(top) > 0 {
		fmt.Fprintln(stdout, renderGames(top, 1))
	}
	if rr.RawPath != "" {
		fmt.Fprintf(stdout, "raw: %s\n", rr.RawPath)
	}
	if rr.FinalPath != "" {
		fmt.Fprintf(stdout, "final: %s\n", rr.FinalPath)
	}
}

func reportForConfigError(cwd string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now()
	input := cli.Input
	if input != "" && !filepath.IsAbs(input) {
		input = filepath.Join(cwd, input)
	}
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Input:      input,
		DryRun:     cli.DryRun,
		StartedAt:  now,
		FinishedAt: now,
		ErrorCode:  config.Code(err),
		ErrorMsg:   err.Error(),
	}
	if rr.ErrorCode == "" {
		rr.ErrorCode = domain.ErrCodeConfigInvalid
	}
	rr.Finalize(nil, nil)
	return rr
}

func matchedOnly(records []domain.GameRecord) []domain.GameRecord {
	out := make([]domain.GameRecord, 0, len(records))
	for _, r := range records {
		if r.Matched() {
			out = append(out, r)
		}
	}
	return out
}
