package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/bundlerank/internal/domain"
)

const (
	// CellSelector 匹配 bundle 页面里每个游戏格子。
	CellSelector = "div.index_game_cell_widget.game_cell"
	// LabelLinkSelector 在格子内部定位标题链接（title=名称，href=条目地址）。
	LabelLinkSelector = "div.label a"
)

// Error 表示某个格子缺少预期结构。整个提取随之失败，不做部分提取。
type Error struct {
	Cell    int    // 0-based，按文档顺序
	Missing string // "label link" / "title" / "href"
}

func (e *Error) Error() string {
	return fmt.Sprintf("第 %d 个游戏格子缺少 %s", e.Cell+1, e.Missing)
}

// ExtractFile 读取本地保存的 bundle 页面并提取游戏列表。
func ExtractFile(path string) ([]domain.GameRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f)
}

// Extract 解析 HTML 并提取游戏列表。
func Extract(r io.Reader) ([]domain.GameRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return ExtractDocument(doc)
}

// ExtractDocument 按文档顺序把每个格子转成一条只含 name/itch 的 GameRecord。
// 纯函数：相同文档 => 相同输出。没有格子时返回空切片（非 nil）。
// title/href 按原样保存，不做任何清洗。
func ExtractDocument(doc *goquery.Document) ([]domain.GameRecord, error) {
	cells := doc.Find(CellSelector)
	out := make([]domain.GameRecord, 0, cells.Length())
	var firstErr error
	cells.EachWithBreak(func(i int, cell *goquery.Selection) bool {
		a := cell.Find(LabelLinkSelector).First()
		if a.Length() == 0 {
			firstErr = &Error{Cell: i, Missing: "label link"}
			return false
		}
		name, ok := a.Attr("title")
		if !ok || name == "" {
			firstErr = &Error{Cell: i, Missing: "title"}
			return false
		}
		href, ok := a.Attr("href")
		if !ok || href == "" {
			firstErr = &Error{Cell: i, Missing: "href"}
			return false
		}
		out = append(out, domain.NewGameRecord(name, href))
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
