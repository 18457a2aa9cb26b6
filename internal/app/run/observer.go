package run

import (
	"time"

	"github.com/John-Robertt/bundlerank/internal/config"
	"github.com/John-Robertt/bundlerank/internal/match"
)

// Observer 用于把“运行进度/阶段/逐条结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - concurrency>1 时 OnRecordDone 来自多个 goroutine，实现必须并发安全。
type Observer interface {
	match.Observer

	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用：extract / raw / enrich / rank / final。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
}
