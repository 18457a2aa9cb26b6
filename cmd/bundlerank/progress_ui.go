package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/width"

	"github.com/John-Robertt/bundlerank/internal/app/run"
	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是逐条进度输出。
//
// - 所有过程信息写到 stderr，不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：默认没有请求超时，长时间无条目完成时定期输出一行（仅交互终端）
type progressUI struct {
	w         io.Writer
	keepalive bool

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	matched int
	low     int
	empty   int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepalive:          true,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

// newPlainProgress 用于 stderr 被重定向的场景：逐行输出，不启动 keepalive。
func newPlainProgress(w io.Writer) *progressUI {
	return &progressUI{w: w}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "run"
	if eff.DryRun {
		mode = "dry-run (不写入文件)"
	}

	fmt.Fprintf(p.w, "[%s] bundlerank %s\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  input: %s\n", eff.Input)
	fmt.Fprintf(p.w, "  threshold: %g\n", eff.Threshold)
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  empty_search: %s\n", eff.EmptySearch)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  timeout: %s\n", formatTimeout(eff.Timeout))
	if !eff.DryRun {
		fmt.Fprintln(p.w, "输出:")
		fmt.Fprintf(p.w, "  raw: %s\n", eff.RawPath)
		fmt.Fprintf(p.w, "  final: %s\n", eff.FinalPath)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "extract":
		fmt.Fprintf(p.w, "提取: games=%d (%s)\n", intField(fields, "records"), formatShortDuration(dur))
	case "raw":
		fmt.Fprintf(p.w, "写入: %v (%s)\n", fields["path"], formatShortDuration(dur))
	case "enrich":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total")
		fmt.Fprintf(p.w, "查询: workers=%d total=%d\n\n", p.workers, p.total)
		if p.keepalive && p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "rank":
		fmt.Fprintf(p.w, "\n排序: games=%d (%s)\n", intField(fields, "records"), formatShortDuration(dur))
	case "final":
		fmt.Fprintf(p.w, "写入: %v (%s)\n", fields["path"], formatShortDuration(dur))
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnRecordDone(idx, total int, rec domain.GameRecord, outcome domain.Outcome, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 并发时 idx 不是完成顺序：行首用完成计数。
	p.done++
	p.total = total

	switch outcome {
	case domain.OutcomeMatched:
		p.matched++
		fmt.Fprintf(p.w, "[%d/%d] %s OK score=%s dist=%s (%s)\n",
			p.done, total, truncate(rec.Name, 60), formatScore(rec), formatConfidence(rec), formatShortDuration(dur),
		)
	case domain.OutcomeLowConfidence:
		p.low++
		fmt.Fprintf(p.w, "[%d/%d] %s SKIP 低置信度 (%s)\n", p.done, total, truncate(rec.Name, 60), formatShortDuration(dur))
	case domain.OutcomeNoCandidates:
		p.empty++
		fmt.Fprintf(p.w, "[%d/%d] %s SKIP 无搜索结果 (%s)\n", p.done, total, truncate(rec.Name, 60), formatShortDuration(dur))
	default:
		fmt.Fprintf(p.w, "[%d/%d] %s %s (%s)\n", p.done, total, truncate(rec.Name, 60), outcome, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

// Stop 停止 keepalive ticker；运行中途失败时由 CLI 调用。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: done=%d/%d matched=%d low=%d empty=%d elapsed=%s\n",
						p.done, p.total, p.matched, p.low, p.empty, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}

// truncate 按终端显示宽度截断：全角/宽字符占 2 列。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || displayWidth(s) <= max {
		return s
	}
	limit, ellipsis := max-3, "..."
	if max <= 3 {
		limit, ellipsis = max, ""
	}

	var b strings.Builder
	w := 0
	for _, r := range s {
		rw := runeWidth(r)
		if w+rw > limit {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String() + ellipsis
}

func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
