package run

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/fsx"
	"github.com/John-Robertt/bundlerank/internal/infra/httpx"
	"github.com/John-Robertt/bundlerank/internal/match"
	"github.com/John-Robertt/bundlerank/internal/provider/opencritic"
	"github.com/John-Robertt/bundlerank/internal/snapshot"
)

const fooBarHTML = `<!doctype html>
<html><body>
<div class="index_game_cell_widget game_cell"><div class="label"><a title="Foo" href="https://dev.itch.io/foo">Foo</a></div></div>
<div class="index_game_cell_widget game_cell"><div class="label"><a title="Bar" href="https://dev.itch.io/bar">Bar</a></div></div>
</body></html>
`

// fakeOpenCritic 模拟搜索与详情接口：search 按 criteria 返回原始 JSON；detail 按 id 返回原始 JSON。
type fakeOpenCritic struct {
	mu sync.Mutex

	search       map[string]string
	detail       map[string]string
	detailStatus map[string]int

	searchCalls int
	detailCalls int
	userAgents  []string
}

func (f *fakeOpenCritic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userAgents = append(f.userAgents, r.Header.Get("User-Agent"))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.URL.Path == "/api/game/search" {
		f.searchCalls++
		body, ok := f.search[r.URL.Query().Get("criteria")]
		if !ok {
			body = "[]"
		}
		_, _ = w.Write([]byte(body))
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/game/")
	f.detailCalls++
	if st := f.detailStatus[id]; st != 0 {
		w.WriteHeader(st)
		return
	}
	body, ok := f.detail[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(body))
}

func newFooBarServer() *fakeOpenCritic {
	return &fakeOpenCritic{
		search: map[string]string{
			"Foo": `[{"dist":0.1,"id":1,"name":"Foo"},{"dist":0,"id":7,"name":"Foo Deluxe"}]`,
			"Bar": `[{"dist":0.5,"id":2,"name":"Bar"}]`,
		},
		detail: map[string]string{
			"1": `{"medianScore":80}`,
		},
	}
}

// setup 在临时目录写入 bundle 页面并启动假接口，返回对应的生效配置。
func setup(t *testing.T, html string, api *fakeOpenCritic) config.EffectiveConfig {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "itchio_520.html")
	if err := os.WriteFile(input, []byte(html), 0o644); err != nil {
		t.Fatalf("写入输入文件失败：%v", err)
	}

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	out := filepath.Join(root, "out")
	return config.EffectiveConfig{
		Input:       input,
		OutDir:      out,
		RawPath:     filepath.Join(out, snapshot.RawName),
		FinalPath:   filepath.Join(out, snapshot.FinalName),
		Threshold:   match.DefaultThreshold,
		Concurrency: 1,
		EmptySearch: match.EmptySearchFail,
		UserAgent:   httpx.DefaultUserAgent,
		LogLevel:    "warn",
		SearchURL:   srv.URL + "/api/game/search",
		DetailURL:   srv.URL + "/api/game/{id}",
		GameURL:     opencritic.DefaultGameURL,
		StoreURL:    opencritic.DefaultStoreURL,
	}
}

func TestExecute_FooBar_WritesBothSnapshots(t *testing.T) {
	api := newFooBarServer()
	eff := setup(t, fooBarHTML, api)

	res := Execute(context.Background(), eff, nil)
	rr := res.Report

	if rr.Status != domain.StatusOK || rr.ErrorCode != "" {
		t.Fatalf("不期望失败：%+v", rr)
	}
	if rr.RunID == "" {
		t.Fatalf("run_id 不应为空")
	}
	if rr.RawPath != eff.RawPath || rr.FinalPath != eff.FinalPath {
		t.Fatalf("report 路径不符：raw=%q final=%q", rr.RawPath, rr.FinalPath)
	}
	want := domain.ReportSummary{Total: 2, Matched: 1, LowConfidence: 1, NoCandidates: 0, Scored: 1}
	if rr.Summary != want {
		t.Fatalf("summary 不符：got=%+v want=%+v", rr.Summary, want)
	}

	raw, err := snapshot.Read(eff.RawPath)
	if err != nil {
		t.Fatalf("读取 all_games.json 失败：%v", err)
	}
	if len(raw) != 2 || raw[0].Name != "Foo" || raw[1].Name != "Bar" {
		t.Fatalf("all_games.json 不符：%+v", raw)
	}
	for _, r := range raw {
		if r.Score != domain.ScoreUnknown || r.Correct != domain.ConfidenceUnknown || r.OpenCritic != "" {
			t.Fatalf("all_games.json 应是富化前的默认值：%+v", r)
		}
	}

	final, err := snapshot.Read(eff.FinalPath)
	if err != nil {
		t.Fatalf("读取 games.json 失败：%v", err)
	}
	if len(final) != 2 || final[0].Name != "Foo" || final[1].Name != "Bar" {
		t.Fatalf("games.json 顺序不符：%+v", final)
	}
	foo, bar := final[0], final[1]
	if foo.Score != 80 || foo.Correct != 0.1 {
		t.Fatalf("Foo 富化结果不符：%+v", foo)
	}
	if foo.OpenCritic != "https://www.opencritic.com/game/1/Foo" {
		t.Fatalf("Foo opencritic 链接不符：%q", foo.OpenCritic)
	}
	// 详情缺少 steamId/Genres：链接以 /app/ 结尾，genres 为空数组。
	if foo.Steam != "https://store.steampowered.com/app/" || foo.Genres == nil || len(foo.Genres) != 0 {
		t.Fatalf("Foo 缺省字段处理不符：%+v", foo)
	}
	if !reflect.DeepEqual(bar, domain.NewGameRecord("Bar", "https://dev.itch.io/bar")) {
		t.Fatalf("Bar 应保持默认值：%+v", bar)
	}

	if len(res.Ranked) != 2 || res.Ranked[0].Name != "Foo" {
		t.Fatalf("Ranked 不符：%+v", res.Ranked)
	}
	if api.searchCalls != 2 || api.detailCalls != 1 {
		t.Fatalf("请求次数不符：search=%d detail=%d", api.searchCalls, api.detailCalls)
	}
	for _, ua := range api.userAgents {
		if ua != httpx.DefaultUserAgent {
			t.Fatalf("每个请求都应带固定 UA，实际=%q", ua)
		}
	}
}

func TestExecute_DryRun_NoWrites(t *testing.T) {
	eff := setup(t, fooBarHTML, newFooBarServer())
	eff.DryRun = true

	res := Execute(context.Background(), eff, nil)
	if res.Report.Status != domain.StatusOK {
		t.Fatalf("不期望失败：%+v", res.Report)
	}
	if !res.Report.DryRun || res.Report.RawPath != "" || res.Report.FinalPath != "" {
		t.Fatalf("dry-run report 不符：%+v", res.Report)
	}
	if _, err := os.Stat(eff.OutDir); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建输出目录，但 Stat err=%v", err)
	}
	if len(res.Ranked) != 2 || res.Ranked[0].Score != 80 {
		t.Fatalf("dry-run 仍应完成富化与排序：%+v", res.Ranked)
	}
}

func TestExecute_EmptySearch_KeepsRawOnly(t *testing.T) {
	api := newFooBarServer()
	delete(api.search, "Bar")
	eff := setup(t, fooBarHTML, api)

	rr := Execute(context.Background(), eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeNoCandidates || rr.Status != domain.StatusFailed {
		t.Fatalf("期望 %q，实际 %+v", domain.ErrCodeNoCandidates, rr)
	}
	if !strings.Contains(rr.ErrorMsg, "Bar") {
		t.Fatalf("错误信息应定位到条目：%q", rr.ErrorMsg)
	}
	if _, err := os.Stat(eff.RawPath); err != nil {
		t.Fatalf("all_games.json 应保留：%v", err)
	}
	if _, err := os.Stat(eff.FinalPath); !os.IsNotExist(err) {
		t.Fatalf("失败时不应写出 games.json，但 Stat err=%v", err)
	}
	if rr.Summary.Matched != 1 {
		t.Fatalf("summary 应反映已完成的条目：%+v", rr.Summary)
	}

	eff.EmptySearch = match.EmptySearchSkip
	rr = Execute(context.Background(), eff, nil).Report
	if rr.Status != domain.StatusOK || rr.Summary.NoCandidates != 1 {
		t.Fatalf("skip 策略下不应失败：%+v", rr)
	}
}

func TestExecute_ErrorCodes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(api *fakeOpenCritic)
		want   string
	}{
		{"detail 非 2xx", func(api *fakeOpenCritic) { api.detailStatus = map[string]int{"1": 500} }, domain.ErrCodeFetchFailed},
		{"detail 限流", func(api *fakeOpenCritic) { api.detailStatus = map[string]int{"1": 429} }, domain.ErrCodeFetchFailed},
		{"detail 坏 JSON", func(api *fakeOpenCritic) { api.detail["1"] = `{"medianScore":` }, domain.ErrCodeParseFailed},
		{"search 坏 JSON", func(api *fakeOpenCritic) { api.search["Foo"] = `{"oops":true}` }, domain.ErrCodeParseFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFooBarServer()
			tc.mutate(api)
			eff := setup(t, fooBarHTML, api)

			rr := Execute(context.Background(), eff, nil).Report
			if rr.ErrorCode != tc.want {
				t.Fatalf("期望 %q，实际 %q (%s)", tc.want, rr.ErrorCode, rr.ErrorMsg)
			}
			if _, err := os.Stat(eff.FinalPath); !os.IsNotExist(err) {
				t.Fatalf("失败时不应写出 games.json，但 Stat err=%v", err)
			}
		})
	}
}

func TestExecute_NoCells_WritesEmptySnapshots(t *testing.T) {
	api := newFooBarServer()
	eff := setup(t, `<html><body><div class="bundle_games"></div></body></html>`, api)

	res := Execute(context.Background(), eff, nil)
	rr := res.Report
	if rr.Status != domain.StatusOK || rr.Summary.Total != 0 {
		t.Fatalf("空页面应成功且 total=0：%+v", rr)
	}
	for _, path := range []string{eff.RawPath, eff.FinalPath} {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("读取 %s 失败：%v", path, err)
		}
		if string(b) != "[]\n" {
			t.Fatalf("%s 应是空数组，实际 %q", path, b)
		}
	}
	if api.searchCalls != 0 {
		t.Fatalf("没有条目时不应发出请求：search=%d", api.searchCalls)
	}
}

func TestExecute_FinalPathIsDirectory(t *testing.T) {
	eff := setup(t, fooBarHTML, newFooBarServer())
	if err := os.MkdirAll(eff.FinalPath, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	rr := Execute(context.Background(), eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeIOFailed {
		t.Fatalf("期望 %q，实际 %+v", domain.ErrCodeIOFailed, rr)
	}
	if !strings.Contains(rr.ErrorMsg, "目标是一个目录") {
		t.Fatalf("错误信息应说明路径类型冲突：%q", rr.ErrorMsg)
	}
	if rr.RawPath != eff.RawPath || rr.FinalPath != "" {
		t.Fatalf("report 路径不符：raw=%q final=%q", rr.RawPath, rr.FinalPath)
	}
}

func TestDescribeWriteError(t *testing.T) {
	exdev := &fsx.CrossDeviceError{Src: "/out/.games.json.tmp-1", Dst: "/out/games.json", Err: errors.New("invalid cross-device link")}
	if got := DescribeWriteError("/out/games.json", exdev); !strings.Contains(got, "无法原子替换") {
		t.Fatalf("EXDEV 信息不符：%q", got)
	}
	if got := DescribeWriteError("/out/games.json", errors.New("disk full")); !strings.Contains(got, "disk full") {
		t.Fatalf("普通错误应保留原因：%q", got)
	}
}

func TestExecute_InputErrors(t *testing.T) {
	broken := `<div class="index_game_cell_widget game_cell"><div class="label"><a href="/x">x</a></div></div>`
	eff := setup(t, broken, newFooBarServer())
	rr := Execute(context.Background(), eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeInputInvalid {
		t.Fatalf("缺少 title 期望 %q，实际 %+v", domain.ErrCodeInputInvalid, rr)
	}
	if _, err := os.Stat(eff.RawPath); !os.IsNotExist(err) {
		t.Fatalf("输入无效时不应写出任何快照，但 Stat err=%v", err)
	}

	eff = setup(t, fooBarHTML, newFooBarServer())
	eff.Input = filepath.Join(filepath.Dir(eff.Input), "missing.html")
	rr = Execute(context.Background(), eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeIOFailed {
		t.Fatalf("输入不存在期望 %q，实际 %+v", domain.ErrCodeIOFailed, rr)
	}
}

func TestExecute_Locked(t *testing.T) {
	api := newFooBarServer()
	eff := setup(t, fooBarHTML, api)

	lock, err := fsx.TryLock(eff.OutDir)
	if err != nil {
		t.Fatalf("获取锁失败：%v", err)
	}
	defer lock.Unlock()

	rr := Execute(context.Background(), eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeLocked {
		t.Fatalf("期望 %q，实际 %+v", domain.ErrCodeLocked, rr)
	}
	if api.searchCalls != 0 {
		t.Fatalf("持锁失败时不应发出请求")
	}
}

func TestExecute_Cancelled(t *testing.T) {
	api := newFooBarServer()
	eff := setup(t, fooBarHTML, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rr := Execute(ctx, eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeCancelled {
		t.Fatalf("期望 %q，实际 %+v", domain.ErrCodeCancelled, rr)
	}
	if _, err := os.Stat(eff.RawPath); err != nil {
		t.Fatalf("中断时 all_games.json 应保留：%v", err)
	}
}

func TestExecute_ConcurrentSameOutput(t *testing.T) {
	html := "<html><body>"
	api := &fakeOpenCritic{search: map[string]string{}, detail: map[string]string{}}
	for i, name := range []string{"A", "B", "C", "D", "E", "F"} {
		html += `<div class="index_game_cell_widget game_cell"><div class="label"><a title="` + name + `" href="/` + name + `">` + name + `</a></div></div>`
		id := string(rune('1' + i))
		api.search[name] = `[{"dist":0.2,"id":` + id + `,"name":"` + name + `"}]`
		api.detail[id] = `{"medianScore":` + id + `0}`
	}
	html += "</body></html>"

	eff := setup(t, html, api)
	seq := Execute(context.Background(), eff, nil)
	if seq.Report.Status != domain.StatusOK {
		t.Fatalf("不期望失败：%+v", seq.Report)
	}
	seqBytes, err := os.ReadFile(eff.FinalPath)
	if err != nil {
		t.Fatalf("读取 games.json 失败：%v", err)
	}

	eff.Concurrency = 3
	par := Execute(context.Background(), eff, nil)
	if par.Report.Status != domain.StatusOK {
		t.Fatalf("不期望失败：%+v", par.Report)
	}
	parBytes, err := os.ReadFile(eff.FinalPath)
	if err != nil {
		t.Fatalf("读取 games.json 失败：%v", err)
	}
	if string(seqBytes) != string(parBytes) {
		t.Fatalf("并发输出应与串行一致：\nseq=%s\npar=%s", seqBytes, parBytes)
	}
	if par.Ranked[0].Name != "F" || par.Ranked[0].Score != 60 {
		t.Fatalf("排序不符：%+v", par.Ranked[0])
	}
}

func TestExecuteWithObserver_InvalidProxy(t *testing.T) {
	eff := setup(t, fooBarHTML, newFooBarServer())
	eff.ProxyURL = "://nope"

	rr := Execute(context.Background(), eff, nil).Report
	if rr.ErrorCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("期望 %q，实际 %+v", domain.ErrCodeConfigInvalid, rr)
	}
}
