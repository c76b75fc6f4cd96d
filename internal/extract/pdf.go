package extract

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"
)

// extractPDF emits one "## Page N" section per page with text.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var out sections
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		out.add("Page "+strconv.Itoa(i), text)
	}
	return out.String(), nil
}
