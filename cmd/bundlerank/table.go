package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/bundlerank/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderGames 把已排序的记录渲染为排行表；first 是首行的名次。
func renderGames(records []domain.GameRecord, first int) string {
	headers := []string{"#", "名称", "评分", "置信度", "类型", "Steam"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft}

	rows := make([][]string, 0, len(records))
	for i, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(first + i),
			truncate(r.Name, 48),
			formatScore(r),
			formatConfidence(r),
			truncate(strings.Join(r.Genres, ", "), 32),
			r.Steam,
		})
	}
	return renderTable(headers, rows, aligns)
}

func formatScore(r domain.GameRecord) string {
	if !r.Scored() {
		return "-"
	}
	return strconv.Itoa(r.Score)
}

func formatConfidence(r domain.GameRecord) string {
	if !r.Matched() {
		return "-"
	}
	return strconv.FormatFloat(r.Correct, 'f', 2, 64)
}
