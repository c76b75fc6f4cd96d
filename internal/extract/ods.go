package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// odsTable captures the attributes and body of each table:table element.
	odsTable     = regexp.MustCompile(`(?s)<table:table(\s[^>]*)?>(.*?)</table:table>`)
	odsTableName = regexp.MustCompile(`table:name="([^"]*)"`)
	odsRow       = regexp.MustCompile(`(?s)<table:table-row(?:\s[^>]*)?>(.*?)</table:table-row>`)
)

// extractODS emits one "## <sheet>" section per table, rendered as a markdown
// table like xlsx sheets. Empty cells are dropped.
func extractODS(content []byte) (string, error) {
	zr, err := openZip("ODS", content)
	if err != nil {
		return "", err
	}
	data, err := findPart("ODS", zr, odpContentPath)
	if err != nil {
		return "", err
	}
	var out sections
	for i, tbl := range odsTable.FindAllStringSubmatch(string(data), -1) {
		name := "Sheet " + strconv.Itoa(i+1)
		if m := odsTableName.FindStringSubmatch(tbl[1]); m != nil && strings.TrimSpace(m[1]) != "" {
			name = strings.TrimSpace(m[1])
		}
		var t table
		for _, row := range odsRow.FindAllStringSubmatch(tbl[2], -1) {
			var cells []string
			for _, c := range odfText.FindAllStringSubmatch(row[1], -1) {
				if text := strings.TrimSpace(c[1]); text != "" {
					cells = append(cells, text)
				}
			}
			t.add(cells)
		}
		out.add(name, t.String())
	}
	return out.String(), nil
}
