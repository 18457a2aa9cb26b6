package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/bundlerank/internal/catalog"
	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/fsx"
	"github.com/John-Robertt/bundlerank/internal/infra/httpx"
	"github.com/John-Robertt/bundlerank/internal/infra/logx"
	"github.com/John-Robertt/bundlerank/internal/match"
	"github.com/John-Robertt/bundlerank/internal/provider"
	"github.com/John-Robertt/bundlerank/internal/provider/opencritic"
	"github.com/John-Robertt/bundlerank/internal/rank"
	"github.com/John-Robertt/bundlerank/internal/snapshot"
)

// Result 是一次 run 的产物：对外稳定的 RunReport + 排好序的记录（供 CLI 渲染表格）。
// Ranked 只在富化成功结束时非空。
type Result struct {
	Report domain.RunReport
	Ranked []domain.GameRecord
}

// Execute 执行一次完整流程：提取 -> 写 all_games.json -> 富化 -> 排序 -> 写 games.json。
// 任一阶段失败即终止，错误被归类为 error_code 写入 report（不向上返回 error）。
func Execute(ctx context.Context, eff config.EffectiveConfig, log *zap.Logger) Result {
	return ExecuteWithObserver(ctx, eff, nil, log)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, obs Observer, log *zap.Logger) Result {
	rr := newReport(eff)
	log = logx.OrNop(log).With(zap.String("run_id", rr.RunID))

	client, err := httpx.NewAPIClient(eff.HTTPOptions())
	if err != nil {
		fail(&rr, domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy_url 无效：%v", err))
		rr.FinishedAt = time.Now()
		rr.Finalize(nil, nil)
		return Result{Report: rr}
	}
	s := &opencritic.Client{
		HTTP:      client,
		SearchURL: eff.SearchURL,
		DetailURL: eff.DetailURL,
		Log:       log,
	}
	return executeWith(ctx, eff, rr, s, obs, log)
}

func executeWith(ctx context.Context, eff config.EffectiveConfig, rr domain.RunReport, s provider.Searcher, obs Observer, log *zap.Logger) Result {
	if obs != nil {
		obs.OnStart(eff)
	}
	log.Info("开始运行", zap.String("input", eff.Input), zap.Bool("dry_run", eff.DryRun))

	finish := func(records []domain.GameRecord, outcomes []domain.Outcome) domain.RunReport {
		rr.FinishedAt = time.Now()
		rr.Finalize(records, outcomes)
		if rr.ErrorCode != "" {
			log.Warn("运行失败", zap.String("error_code", rr.ErrorCode), zap.String("error_msg", rr.ErrorMsg))
		} else {
			log.Info("运行完成", zap.Int("total", rr.Summary.Total), zap.Int("matched", rr.Summary.Matched))
		}
		return rr
	}

	// dry-run 不写任何文件，因此也不需要运行锁。
	if !eff.DryRun {
		lock, err := fsx.TryLock(eff.OutDir)
		if err != nil {
			if errors.Is(err, fsx.ErrLocked) {
				fail(&rr, domain.ErrCodeLocked, fmt.Sprintf("%v；请等待另一个运行结束", err))
			} else {
				fail(&rr, domain.ErrCodeIOFailed, err.Error())
			}
			return Result{Report: finish(nil, nil)}
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Warn("释放运行锁失败", zap.Error(err))
			}
		}()
	}

	extractStarted := time.Now()
	records, err := catalog.ExtractFile(eff.Input)
	if err != nil {
		code, msg := ClassifyExtract(eff.Input, err)
		fail(&rr, code, msg)
		return Result{Report: finish(nil, nil)}
	}
	if len(records) == 0 {
		log.Warn("页面中没有任何游戏格子，可能未完整加载", zap.String("input", eff.Input))
	}
	if obs != nil {
		obs.OnPhaseDone("extract", map[string]any{"records": len(records)}, time.Since(extractStarted))
	}

	if !eff.DryRun {
		writeStarted := time.Now()
		if err := snapshot.Write(eff.RawPath, records); err != nil {
			fail(&rr, domain.ErrCodeIOFailed, DescribeWriteError(eff.RawPath, err))
			return Result{Report: finish(records, nil)}
		}
		rr.RawPath = eff.RawPath
		if obs != nil {
			obs.OnPhaseDone("raw", map[string]any{"path": eff.RawPath}, time.Since(writeStarted))
		}
	}

	opt := eff.MatchOptions()
	workers := opt.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("enrich", map[string]any{"workers": workers, "total": len(records)}, 0)
	}

	var mobs match.Observer
	if obs != nil {
		mobs = obs
	}
	outcomes, err := match.Enrich(ctx, records, s, opt, mobs, log)
	if err != nil {
		code, msg := classifyEnrich(ctx, err)
		fail(&rr, code, msg)
		return Result{Report: finish(records, outcomes)}
	}

	rankStarted := time.Now()
	ranked := rank.ByScore(records)
	if obs != nil {
		obs.OnPhaseDone("rank", map[string]any{"records": len(ranked)}, time.Since(rankStarted))
	}

	if !eff.DryRun {
		writeStarted := time.Now()
		if err := snapshot.Write(eff.FinalPath, ranked); err != nil {
			fail(&rr, domain.ErrCodeIOFailed, DescribeWriteError(eff.FinalPath, err))
			return Result{Report: finish(records, outcomes)}
		}
		rr.FinalPath = eff.FinalPath
		if obs != nil {
			obs.OnPhaseDone("final", map[string]any{"path": eff.FinalPath}, time.Since(writeStarted))
		}
	}

	return Result{Report: finish(ranked, outcomes), Ranked: ranked}
}

func newReport(eff config.EffectiveConfig) domain.RunReport {
	return domain.RunReport{
		RunID:     uuid.NewString(),
		Input:     eff.Input,
		DryRun:    eff.DryRun,
		StartedAt: time.Now(),
	}
}

func fail(rr *domain.RunReport, code, msg string) {
	rr.ErrorCode = code
	rr.ErrorMsg = msg
}

// ClassifyExtract 区分“读不到文件”(io_failed) 与“文件不是预期的 bundle 页面”(input_invalid)。
// run 与 extract 子命令共用。
func ClassifyExtract(path string, err error) (string, string) {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrCodeIOFailed, fmt.Sprintf("输入文件不存在：%s；请先在浏览器中把 bundle 页面滚动到底并另存为 HTML", path)
		}
		return domain.ErrCodeIOFailed, fmt.Sprintf("读取输入文件失败：%v", err)
	}
	var ce *catalog.Error
	if errors.As(err, &ce) {
		return domain.ErrCodeInputInvalid, fmt.Sprintf("%s 结构不符合预期：%v", path, err)
	}
	return domain.ErrCodeInputInvalid, fmt.Sprintf("解析 %s 失败：%v", path, err)
}

// DescribeWriteError 把快照写入失败转成可读信息（error_code 固定为 io_failed）。
func DescribeWriteError(path string, err error) string {
	switch {
	case fsx.IsPathTypeConflict(err):
		return fmt.Sprintf("写入 %s 失败：目标是一个目录，请删除或改名后重跑", path)
	case fsx.IsCrossDevice(err):
		return fmt.Sprintf("写入 %s 失败：临时文件无法原子替换到目标位置（输出目录可能是挂载点）：%v", path, err)
	}
	return fmt.Sprintf("写入 %s 失败：%v", path, err)
}

// classifyEnrich 把富化阶段的错误映射为 error_code + 可读信息。
func classifyEnrich(ctx context.Context, err error) (string, string) {
	if ctx.Err() != nil {
		return domain.ErrCodeCancelled, "运行被中断；all_games.json 保留，可直接重跑"
	}

	where := ""
	var re *match.RecordError
	if errors.As(err, &re) {
		where = fmt.Sprintf("第 %d 条 %q：", re.Index+1, re.Name)
	}

	if errors.Is(err, match.ErrNoCandidates) {
		return domain.ErrCodeNoCandidates, where + "搜索结果为空。可设置 empty_search = \"skip\" 跳过此类条目"
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		var de *provider.DecodeError
		if errors.As(pe.Err, &de) {
			return domain.ErrCodeParseFailed, where + humanizeParseError(pe)
		}
		return domain.ErrCodeFetchFailed, where + humanizeFetchError(pe)
	}

	return domain.ErrCodeFetchFailed, where + err.Error()
}

func humanizeFetchError(pe *provider.Error) string {
	name, stage := pe.Provider, pe.Stage
	err := pe.Err

	var be *provider.BlockedError
	if errors.As(err, &be) {
		return fmt.Sprintf("%s %s 返回了 HTML 页面而不是 JSON（%s），可能被拦截。建议配置 proxy_url 或稍后重试。", name, stage, be.Reason)
	}

	var hs *provider.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s %s 返回 HTTP %d（可能触发限流）。建议保持 concurrency = 1 或配置 proxy_url。", name, stage, hs.StatusCode)
		case 404:
			return fmt.Sprintf("%s %s 返回 HTTP 404（接口地址可能已变化）：%s", name, stage, pe.URL)
		default:
			return fmt.Sprintf("%s %s 返回 HTTP %d。", name, stage, hs.StatusCode)
		}
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s %s 请求超时。建议检查网络/代理，或调大 timeout。", name, stage)
	}
	if strings.Contains(low, "tls") || strings.Contains(low, "handshake") {
		return fmt.Sprintf("%s %s 连接失败（TLS）。建议配置 proxy_url 或稍后重试。", name, stage)
	}
	return fmt.Sprintf("%s %s 请求失败：%v", name, stage, err)
}

func humanizeParseError(pe *provider.Error) string {
	// 通常意味着接口格式变化，或被返回了非预期内容。
	return fmt.Sprintf("%s %s 响应无法解析（接口格式可能变化）：%v", pe.Provider, pe.Stage, pe.Err)
}
