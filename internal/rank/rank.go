package rank

import (
	"sort"

	"github.com/John-Robertt/bundlerank/internal/domain"
)

// ByScore 返回按 score 降序稳定排序的新切片；输入不被修改。
// 同分（包括所有 -1）保持输入顺序，即提取顺序。
func ByScore(records []domain.GameRecord) []domain.GameRecord {
	out := make([]domain.GameRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Top 返回排序后的前 n 条；n<=0 或超过长度时返回全部。
func Top(records []domain.GameRecord, n int) []domain.GameRecord {
	ranked := ByScore(records)
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}
