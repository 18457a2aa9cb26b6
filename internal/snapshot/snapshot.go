package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/John-Robertt/bundlerank/internal/domain"
	"github.com/John-Robertt/bundlerank/internal/infra/fsx"
)

const (
	RawName   = "all_games.json"
	FinalName = "games.json"
)

// Encode 输出 2 空格缩进的 JSON 数组（以换行结尾）。
// 不转义 HTML 字符：描述里的 & < > 原样保留，便于人工阅读。
func Encode(records []domain.GameRecord) ([]byte, error) {
	if records == nil {
		records = []domain.GameRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write 原子写入快照文件（临时文件 + rename）。
func Write(path string, records []domain.GameRecord) error {
	b, err := Encode(records)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), b)
}

// WriteTo 把快照写到任意 writer（例如 stdout）。
func WriteTo(w io.Writer, records []domain.GameRecord) error {
	b, err := Encode(records)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Read 读取快照文件。缺失的 genres 规整为 []。
func Read(path string) ([]domain.GameRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []domain.GameRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("解析快照 %q 失败：%w", path, err)
	}
	for i := range out {
		if out[i].Genres == nil {
			out[i].Genres = []string{}
		}
	}
	return out, nil
}
