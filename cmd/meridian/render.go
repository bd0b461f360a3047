package main

import (
	"encoding/json"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// emitJSON writes v as indented JSON; every listing command accepts a
// --json flag that routes through here.
func emitJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// tableView builds one rounded terminal table. Rows shorter than the
// header are padded with empty cells.
type tableView struct {
	writer  table.Writer
	columns int
}

func newTableView(headers ...string) *tableView {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	return &tableView{writer: tw, columns: len(headers)}
}

// rightAlign right-aligns the named 1-based columns; headers stay
// left-aligned so narrow numeric columns remain readable.
func (v *tableView) rightAlign(columns ...int) *tableView {
	configs := make([]table.ColumnConfig, 0, len(columns))
	for _, column := range columns {
		configs = append(configs, table.ColumnConfig{
			Number:      column,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	v.writer.SetColumnConfigs(configs)
	return v
}

func (v *tableView) addRow(cells ...string) {
	row := make(table.Row, v.columns)
	for i := 0; i < v.columns; i++ {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	v.writer.AppendRow(row)
}

func (v *tableView) render() string {
	return v.writer.Render()
}
