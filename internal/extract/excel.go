package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// extractExcel emits one "## <sheet>" section per non-empty sheet holding
// the sheet as a markdown table.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var out sections
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var t table
		for _, row := range rows {
			t.add(row)
		}
		out.add(sheet, t.String())
	}
	return out.String(), nil
}
