package opencritic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/logx"
	providerx "github.com/John-Robertt/bundlerank/internal/provider"
)

const (
	DefaultSearchURL = "https://api.opencritic.com/api/game/search"
	DefaultDetailURL = "https://api.opencritic.com/api/game/{id}"
	DefaultGameURL   = "https://www.opencritic.com/game/{id}/{name}"
	DefaultStoreURL  = "https://store.steampowered.com/app/{id}"
)

// maxBody 限制单个响应体大小；详情接口的正常响应在几十 KB 量级。
const maxBody = 8 << 20

var _ providerx.Searcher = (*Client)(nil)

// Client 实现 OpenCritic 的搜索与详情接口。
//
// 约束：
// - 先搜索再取详情（详情只能按搜索得到的 id 访问）
// - 不做缓存/重试/限速
// - 任何传输失败都包装为 *provider.Error
type Client struct {
	HTTP *http.Client

	// SearchURL 为空时使用 DefaultSearchURL；criteria 以 query 参数追加。
	SearchURL string
	// DetailURL 为空时使用 DefaultDetailURL；{id} 会被替换为路径转义后的 id。
	DetailURL string

	Log *zap.Logger
}

func (*Client) Name() string { return "opencritic" }

func (c *Client) searchURL() string {
	if u := strings.TrimSpace(c.SearchURL); u != "" {
		return u
	}
	return DefaultSearchURL
}

func (c *Client) detailURL() string {
	if u := strings.TrimSpace(c.DetailURL); u != "" {
		return u
	}
	return DefaultDetailURL
}

// SearchURLFor 返回以 criteria 搜索的完整 URL：<search_url>?criteria=<name>。
func (c *Client) SearchURLFor(criteria string) string {
	base := c.searchURL()
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + url.Values{"criteria": []string{criteria}}.Encode()
}

// DetailURLFor 返回 id 对应的详情 URL。
func (c *Client) DetailURLFor(id domain.ExternalID) string {
	return strings.ReplaceAll(c.detailURL(), "{id}", url.PathEscape(id.String()))
}

// Search 按服务端顺序返回候选；空数组不是错误（是否视为失败由调用方决定）。
func (c *Client) Search(ctx context.Context, criteria string) ([]domain.Candidate, error) {
	u := c.SearchURLFor(criteria)
	var out []domain.Candidate
	if err := c.getJSON(ctx, providerx.StageSearch, u, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Candidate{}
	}
	return out, nil
}

// Detail 读取单个游戏的详情；缺失字段保持零值，由调用方做默认值处理。
func (c *Client) Detail(ctx context.Context, id domain.ExternalID) (domain.Detail, error) {
	if id == "" {
		return domain.Detail{}, &providerx.Error{Provider: c.Name(), Stage: providerx.StageDetail, Err: errors.New("id 不能为空")}
	}
	u := c.DetailURLFor(id)
	var d domain.Detail
	if err := c.getJSON(ctx, providerx.StageDetail, u, &d); err != nil {
		return domain.Detail{}, err
	}
	return d, nil
}

func (c *Client) getJSON(ctx context.Context, stage, u string, v any) error {
	log := logx.OrNop(c.Log).With(zap.String("provider", c.Name()), zap.String("stage", stage))
	wrap := func(err error) error {
		return &providerx.Error{Provider: c.Name(), Stage: stage, URL: u, Err: err}
	}

	if c.HTTP == nil {
		return wrap(errors.New("http client 不能为空"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Debug("请求失败", zap.String("url", u), zap.Error(err))
		return wrap(err)
	}
	defer resp.Body.Close()

	log.Debug("请求完成",
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrap(&providerx.HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")})
	}
	if isHTML(resp.Header.Get("Content-Type")) {
		// 被引导到验证页时接口会返回 200 + HTML。
		return wrap(&providerx.BlockedError{URL: u, Reason: "html-response"})
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return wrap(err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return wrap(&providerx.DecodeError{Err: err})
	}
	return nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html"
}
