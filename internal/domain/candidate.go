package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ExternalID 是外部目录中的标识符。
// 接口里同一个字段有时是数字、有时是字符串，缺失或 null 时为空串。
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("external id 既不是数字也不是字符串：%s", string(b))
	}
	// 整数按十进制原样输出；只有真正的小数才保留小数点。
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = ExternalID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ExternalID(n.String())
	return nil
}

func (id ExternalID) String() string { return string(id) }

// Candidate 是搜索接口返回的一条候选（已按服务端相关性排序）。
// Dist 是距离：0 表示完全匹配，越小越好。
type Candidate struct {
	Dist float64    `json:"dist"`
	ID   ExternalID `json:"id"`
	Name string     `json:"name"`
}

// Genre 是详情接口 Genres 数组里的元素。
type Genre struct {
	Name string `json:"name"`
}

// Detail 是详情接口的最小子集；所有字段都是可选的。
type Detail struct {
	MedianScore *float64   `json:"medianScore"`
	SteamID     ExternalID `json:"steamId"`
	Description *string    `json:"description"`
	Genres      []Genre    `json:"Genres"`
}

// GenreNames 按响应顺序返回类型名；缺失时返回空切片。
func (d Detail) GenreNames() []string {
	out := make([]string, 0, len(d.Genres))
	for _, g := range d.Genres {
		out = append(out, g.Name)
	}
	return out
}

// Outcome 是 match 阶段对单条记录的处理结果。
type Outcome string

const (
	OutcomeMatched       Outcome = "matched"
	OutcomeLowConfidence Outcome = "low_confidence"
	OutcomeNoCandidates  Outcome = "no_candidates"
)
