package domain

import (
	"bytes"
	"encoding/json"
	"math"
)

const (
	// ScoreUnknown 表示没有可用评分（未匹配，或详情中缺少 medianScore）。
	ScoreUnknown = -1
	// ConfidenceUnknown 表示没有被接受的匹配。
	ConfidenceUnknown = -1.0
)

// GameRecord 是整个流程唯一的实体：由 catalog 创建，由 match 填充，由 rank 只读消费。
//
// 不变量：
// - Name/Itch 创建后不再修改
// - 其余字段最多写入一次（仅在 match 阶段）
// - 未知值只用 -1 表示；Genres 输出为 []，不会是 null
//
// JSON key 与字段顺序是对外契约（all_games.json / games.json）。
type GameRecord struct {
	Name        string   `json:"name"`
	Itch        string   `json:"itch"`
	OpenCritic  string   `json:"opencritic"`
	Steam       string   `json:"steam"`
	Score       int      `json:"score"`
	Correct     float64  `json:"correct"`
	Description string   `json:"description"`
	Genres      []string `json:"genres"`
}

// NewGameRecord 为每条记录单独构造默认值（不共享任何可变模板）。
func NewGameRecord(name, itch string) GameRecord {
	return GameRecord{
		Name:    name,
		Itch:    itch,
		Score:   ScoreUnknown,
		Correct: ConfidenceUnknown,
		Genres:  []string{},
	}
}

// Matched 报告该记录是否已经接受过一次外部匹配。
func (g GameRecord) Matched() bool { return g.Correct != ConfidenceUnknown }

// Scored 报告该记录是否有可用评分。
func (g GameRecord) Scored() bool { return g.Score != ScoreUnknown }

// MarshalJSON 保证 Genres 为 nil 时仍输出 []，并且不转义 HTML 字符。
func (g GameRecord) MarshalJSON() ([]byte, error) {
	type alias GameRecord
	a := alias(g)
	if a.Genres == nil {
		a.Genres = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(a); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// RoundScore 把 medianScore 规整为整数分（OpenCritic 偶尔返回小数）。
func RoundScore(v float64) int {
	return int(math.Round(v))
}
