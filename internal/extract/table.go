package extract

import "strings"

// table renders spreadsheet rows as a markdown pipe table. The first
// non-empty row is the header; short rows are padded to the widest row.
type table struct {
	rows  [][]string
	width int
}

func (t *table) add(cells []string) {
	row := make([]string, len(cells))
	empty := true
	for i, c := range cells {
		c = strings.Join(strings.Fields(c), " ")
		row[i] = strings.ReplaceAll(c, "|", `\|`)
		if c != "" {
			empty = false
		}
	}
	if empty {
		return
	}
	if len(row) > t.width {
		t.width = len(row)
	}
	t.rows = append(t.rows, row)
}

func (t *table) String() string {
	if len(t.rows) == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range t.rows {
		writeRow(&b, row, t.width)
		if i == 0 {
			sep := make([]string, t.width)
			for j := range sep {
				sep[j] = "---"
			}
			writeRow(&b, sep, t.width)
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, row []string, width int) {
	b.WriteByte('|')
	for i := 0; i < width; i++ {
		b.WriteByte(' ')
		if i < len(row) {
			b.WriteString(row[i])
		}
		b.WriteString(" |")
	}
	b.WriteByte('\n')
}
