package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/logx"
	"github.com/John-Robertt/bundlerank/internal/provider"
)

const (
	// DefaultThreshold 是经验阈值：0.2~0.3 之间有对有错，超过 0.3 基本都是错配。
	DefaultThreshold = 0.3

	EmptySearchFail = "fail"
	EmptySearchSkip = "skip"
)

// ErrNoCandidates 表示搜索接口对某个标题返回了空数组（EmptySearchFail 策略下终止运行）。
var ErrNoCandidates = errors.New("搜索结果为空")

// Options 控制匹配与富化行为。零值可用：阈值 0.3、空结果即失败、串行执行。
type Options struct {
	// Threshold 为接受匹配的最大 dist（含）。<=0 时使用 DefaultThreshold。
	Threshold float64
	// EmptySearch 为空搜索结果的处理策略：EmptySearchFail（默认）或 EmptySearchSkip。
	EmptySearch string
	// Concurrency <=1 时严格串行；>1 时用有界 worker 池，首个失败即取消其余查询。
	Concurrency int

	// GameURL/StoreURL 是 URL 模板，{id}/{name} 会被替换。
	GameURL  string
	StoreURL string
}

func (o Options) threshold() float64 {
	if o.Threshold <= 0 {
		return DefaultThreshold
	}
	return o.Threshold
}

// Observer 接收逐条进度事件（只做观察，不影响结果）。
// Concurrency>1 时事件来自多个 goroutine，实现必须并发安全。
type Observer interface {
	OnRecordDone(idx, total int, rec domain.GameRecord, outcome domain.Outcome, dur time.Duration)
}

// RecordError 把传输失败定位到具体记录。
type RecordError struct {
	Index int
	Name  string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("第 %d 条 %q：%v", e.Index+1, e.Name, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Enrich 对每条记录执行“搜索 -> 取首个候选 -> 阈值判定 -> 详情 -> 填充”。
//
// records 原地修改；返回值 outcomes 与 records 下标一一对应（失败时未处理的条目为空串）。
// 任何传输失败都会终止整个运行并返回 *RecordError。
func Enrich(ctx context.Context, records []domain.GameRecord, s provider.Searcher, opt Options, obs Observer, log *zap.Logger) ([]domain.Outcome, error) {
	if s == nil {
		return nil, errors.New("searcher 不能为空")
	}
	log = logx.OrNop(log).With(zap.String("provider", s.Name()))

	outcomes := make([]domain.Outcome, len(records))
	if opt.Concurrency <= 1 {
		for i := range records {
			if err := enrichAt(ctx, records, outcomes, i, s, opt, obs, log); err != nil {
				return outcomes, err
			}
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.Concurrency)
	for i := range records {
		i := i
		g.Go(func() error {
			return enrichAt(gctx, records, outcomes, i, s, opt, obs, log)
		})
	}
	return outcomes, g.Wait()
}

func enrichAt(ctx context.Context, records []domain.GameRecord, outcomes []domain.Outcome, i int, s provider.Searcher, opt Options, obs Observer, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	started := time.Now()
	rec, outcome, err := EnrichOne(ctx, records[i], s, opt)
	if err != nil {
		log.Warn("富化失败", zap.Int("index", i), zap.String("game", records[i].Name), zap.Error(err))
		return &RecordError{Index: i, Name: records[i].Name, Err: err}
	}

	// 每个下标只由一个 goroutine 写入。
	records[i] = rec
	outcomes[i] = outcome

	log.Debug("富化完成",
		zap.Int("index", i),
		zap.String("game", rec.Name),
		zap.String("outcome", string(outcome)),
		zap.Float64("dist", rec.Correct),
		zap.Int("score", rec.Score),
	)
	if obs != nil {
		obs.OnRecordDone(i, len(records), rec, outcome, time.Since(started))
	}
	return nil
}

// EnrichOne 处理单条记录并返回新值；输入不会被修改。
// 只在返回 nil error 时结果才有效，因此富化字段最多写入一次。
func EnrichOne(ctx context.Context, rec domain.GameRecord, s provider.Searcher, opt Options) (domain.GameRecord, domain.Outcome, error) {
	candidates, err := s.Search(ctx, rec.Name)
	if err != nil {
		return rec, "", err
	}
	if len(candidates) == 0 {
		if opt.EmptySearch == EmptySearchSkip {
			return rec, domain.OutcomeNoCandidates, nil
		}
		return rec, "", ErrNoCandidates
	}

	// 只取首个候选：服务端排序即相关性排序。
	best := candidates[0]
	if best.Dist > opt.threshold() {
		return rec, domain.OutcomeLowConfidence, nil
	}

	detail, err := s.Detail(ctx, best.ID)
	if err != nil {
		return rec, "", err
	}

	out := rec
	out.Correct = best.Dist
	out.Score = domain.ScoreUnknown
	if detail.MedianScore != nil {
		out.Score = domain.RoundScore(*detail.MedianScore)
	}
	out.OpenCritic = Expand(opt.GameURL, best.ID.String(), best.Name)
	// steamId 缺失时得到以 "/" 结尾的 URL（不做校验）。
	out.Steam = Expand(opt.StoreURL, detail.SteamID.String(), "")
	out.Description = ""
	if detail.Description != nil {
		out.Description = *detail.Description
	}
	out.Genres = detail.GenreNames()
	return out, domain.OutcomeMatched, nil
}

// Expand 替换模板中的 {id}/{name}。值原样代入（不做 URL 转义）。
func Expand(tpl, id, name string) string {
	return strings.NewReplacer("{id}", id, "{name}", name).Replace(tpl)
}
