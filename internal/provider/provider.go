package provider

import (
	"context"
	"fmt"

	"github.com/John-Robertt/bundlerank/internal/domain"
)

// Searcher 把“评测聚合站点的接口细节”限制在 provider 包内部；match 只依赖这个接口。
//
// 约束：
// - 不做缓存、不做重试、不做限速
// - Search 的候选顺序就是服务端的相关性顺序，调用方按原样消费
// - 传输层失败（网络/非 2xx/响应体无法解析）必须返回 *Error
type Searcher interface {
	Name() string
	Search(ctx context.Context, criteria string) ([]domain.Candidate, error)
	Detail(ctx context.Context, id domain.ExternalID) (domain.Detail, error)
}

const (
	StageSearch = "search"
	StageDetail = "detail"
)

// Error 是 provider 阶段的可追溯错误。
// 上层据此把失败归类为 fetch_failed / parse_failed，并写入 report。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // StageSearch 或 StageDetail
	URL      string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DecodeError 表示响应体不是预期的 JSON。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "响应体解析失败：" + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
