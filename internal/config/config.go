package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/John-Robertt/bundlerank/internal/infra/httpx"
	"github.com/John-Robertt/bundlerank/internal/infra/logx"
	"github.com/John-Robertt/bundlerank/internal/match"
	"github.com/John-Robertt/bundlerank/internal/provider/opencritic"
	"github.com/John-Robertt/bundlerank/internal/snapshot"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（可选）。
	FileName = "bundlerank.toml"

	// DefaultInput 是手动保存的 bundle 页面文件名。
	DefaultInput = "itchio_520.html"
	// DefaultConcurrency 为 1：逐条串行请求。
	DefaultConcurrency = 1
	// MaxConcurrency 是并发上限；超出截断。
	MaxConcurrency = 16
)

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --threshold 必须能覆盖配置中的 threshold。
type CLIArgs struct {
	ConfigPath string

	Input  string
	OutDir string

	Threshold    float64
	ThresholdSet bool

	Concurrency    int
	ConcurrencySet bool

	EmptySearch    string
	EmptySearchSet bool

	DryRun  bool
	Verbose bool
}

// FileConfig 对应 bundlerank.toml 的解析结构。
type FileConfig struct {
	Input       string   `toml:"input"`
	OutDir      string   `toml:"out_dir"`
	RawFile     string   `toml:"raw_file"`
	FinalFile   string   `toml:"final_file"`
	Threshold   *float64 `toml:"threshold"`
	Concurrency int      `toml:"concurrency"`
	EmptySearch string   `toml:"empty_search"`
	UserAgent   string   `toml:"user_agent"`
	ProxyURL    string   `toml:"proxy_url"`
	Timeout     string   `toml:"timeout"`
	LogLevel    string   `toml:"log_level"`

	OpenCritic OpenCriticConfig `toml:"opencritic"`
}

type OpenCriticConfig struct {
	SearchURL string `toml:"search_url"`
	DetailURL string `toml:"detail_url"`
	GameURL   string `toml:"game_url"`
	StoreURL  string `toml:"store_url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件；未读取任何文件时为空。
	ConfigPath string

	Input     string // abs
	OutDir    string // abs
	RawPath   string // abs，<out_dir>/<raw_file>
	FinalPath string // abs，<out_dir>/<final_file>
	DryRun    bool

	Threshold   float64
	Concurrency int
	EmptySearch string

	UserAgent string
	ProxyURL  string
	Timeout   time.Duration
	LogLevel  string

	SearchURL string
	DetailURL string
	GameURL   string
	StoreURL  string
}

// MatchOptions 把与匹配相关的字段转成 match.Options。
func (e EffectiveConfig) MatchOptions() match.Options {
	return match.Options{
		Threshold:   e.Threshold,
		EmptySearch: e.EmptySearch,
		Concurrency: e.Concurrency,
		GameURL:     e.GameURL,
		StoreURL:    e.StoreURL,
	}
}

// HTTPOptions 把网络相关字段转成 httpx.Options。
func (e EffectiveConfig) HTTPOptions() httpx.Options {
	return httpx.Options{
		ProxyURL:  e.ProxyURL,
		UserAgent: e.UserAgent,
		Timeout:   e.Timeout,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/bundlerank.toml（可选）
//
// 覆盖优先级（固定）：CLI > config > 内置默认。
// 配置文件里的相对路径以配置文件所在目录为基准；CLI 的相对路径以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	cfgDir := cwdAbs
	usedPath := ""
	if exists {
		cfgDir = filepath.Dir(cfgPath)
		usedPath = cfgPath
	}

	eff, err := merge(cwdAbs, cfgDir, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigPath = usedPath
	return eff, nil
}

func merge(cwdAbs, cfgDir string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	// input：CLI > config > 默认（默认相对 cwd）
	input := absCleanFrom(cwdAbs, DefaultInput)
	if strings.TrimSpace(cli.Input) != "" {
		input = absCleanFrom(cwdAbs, cli.Input)
	} else if strings.TrimSpace(fc.Input) != "" {
		input = absCleanFrom(cfgDir, fc.Input)
	}

	// out_dir：CLI > config > cwd
	outDir := cwdAbs
	if strings.TrimSpace(cli.OutDir) != "" {
		outDir = absCleanFrom(cwdAbs, cli.OutDir)
	} else if strings.TrimSpace(fc.OutDir) != "" {
		outDir = absCleanFrom(cfgDir, fc.OutDir)
	}

	rawFile, err := fileName("raw_file", fc.RawFile, snapshot.RawName)
	if err != nil {
		return EffectiveConfig{}, err
	}
	finalFile, err := fileName("final_file", fc.FinalFile, snapshot.FinalName)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if rawFile == finalFile {
		return EffectiveConfig{}, fmt.Errorf("raw_file 与 final_file 不能相同：%q", rawFile)
	}

	threshold := match.DefaultThreshold
	if cli.ThresholdSet {
		threshold = cli.Threshold
	} else if fc.Threshold != nil {
		threshold = *fc.Threshold
	}
	if !(threshold > 0) {
		return EffectiveConfig{}, fmt.Errorf("threshold 必须大于 0，实际是 %v", threshold)
	}

	concurrency := DefaultConcurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	} else if fc.Concurrency != 0 {
		concurrency = fc.Concurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	emptySearch := match.EmptySearchFail
	if cli.EmptySearchSet {
		emptySearch = cli.EmptySearch
	} else if strings.TrimSpace(fc.EmptySearch) != "" {
		emptySearch = strings.TrimSpace(fc.EmptySearch)
	}
	if err := validateEmptySearch(emptySearch); err != nil {
		return EffectiveConfig{}, err
	}

	proxyURL := strings.TrimSpace(fc.ProxyURL)
	if proxyURL != "" {
		if err := validateProxyURL(proxyURL); err != nil {
			return EffectiveConfig{}, err
		}
	}

	var timeout time.Duration
	if s := strings.TrimSpace(fc.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return EffectiveConfig{}, fmt.Errorf("timeout 无效：%q", s)
		}
		timeout = d
	}

	logLevel := strings.ToLower(strings.TrimSpace(fc.LogLevel))
	if !logx.ValidLevel(logLevel) {
		return EffectiveConfig{}, fmt.Errorf("log_level 只能是 debug/info/warn/error，实际是 %q", fc.LogLevel)
	}
	if logLevel == "" {
		logLevel = logx.DefaultLevel
	}
	if cli.Verbose {
		logLevel = "debug"
	}

	userAgent := strings.TrimSpace(fc.UserAgent)
	if userAgent == "" {
		userAgent = httpx.DefaultUserAgent
	}

	oc := fc.OpenCritic
	searchURL := orDefault(oc.SearchURL, opencritic.DefaultSearchURL)
	detailURL := orDefault(oc.DetailURL, opencritic.DefaultDetailURL)
	gameURL := orDefault(oc.GameURL, opencritic.DefaultGameURL)
	storeURL := orDefault(oc.StoreURL, opencritic.DefaultStoreURL)
	for _, u := range []struct{ key, val string }{
		{"opencritic.search_url", searchURL},
		{"opencritic.detail_url", detailURL},
		{"opencritic.game_url", gameURL},
		{"opencritic.store_url", storeURL},
	} {
		if err := validateHTTPURL(u.key, u.val); err != nil {
			return EffectiveConfig{}, err
		}
	}
	if !strings.Contains(detailURL, "{id}") {
		return EffectiveConfig{}, fmt.Errorf("opencritic.detail_url 必须包含 {id}：%q", detailURL)
	}

	return EffectiveConfig{
		Input:       input,
		OutDir:      outDir,
		RawPath:     filepath.Join(outDir, rawFile),
		FinalPath:   filepath.Join(outDir, finalFile),
		DryRun:      cli.DryRun,
		Threshold:   threshold,
		Concurrency: concurrency,
		EmptySearch: emptySearch,
		UserAgent:   userAgent,
		ProxyURL:    proxyURL,
		Timeout:     timeout,
		LogLevel:    logLevel,
		SearchURL:   searchURL,
		DetailURL:   detailURL,
		GameURL:     gameURL,
		StoreURL:    storeURL,
	}, nil
}

func validateEmptySearch(v string) error {
	switch v {
	case match.EmptySearchFail, match.EmptySearchSkip:
		return nil
	case "":
		return fmt.Errorf("empty_search 不能为空")
	default:
		return fmt.Errorf("empty_search 只能是 fail 或 skip，实际是 %q", v)
	}
}

// validateHTTPURL 校验 http/https 绝对 URL；模板占位符不影响解析。
func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(strings.NewReplacer("{id}", "0", "{name}", "x").Replace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", key, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", key, raw)
	}
	return nil
}

// validateProxyURL 允许 http/https/socks5 代理（net/http 原生支持的三种）。
func validateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("proxy_url 无效：%q", raw)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
		return nil
	default:
		return fmt.Errorf("proxy_url 只支持 http/https/socks5：%q", raw)
	}
}

// fileName 校验输出文件名：只允许单个文件名，不允许路径。
func fileName(key, v, def string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	if v != filepath.Base(v) || v == "." || v == ".." {
		return "", fmt.Errorf("%s 只能是文件名，不能包含路径：%q", key, v)
	}
	return v, nil
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件（未知字段报错，避免拼写错误被静默忽略）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
