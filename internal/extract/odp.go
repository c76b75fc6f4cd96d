package extract

import (
	"regexp"
	"strconv"
)

// odpContentPath is the path to the main content inside an OpenDocument zip.
const odpContentPath = "content.xml"

var (
	// odpPage captures the body of each presentation page.
	odpPage = regexp.MustCompile(`(?s)<draw:page[\s>].*?</draw:page>`)
	// odfText matches text:p, text:h and text:span elements in document order.
	odfText = regexp.MustCompile(`<text:(?:p|h|span)(?:\s[^>]*)?>([^<]*)</text:(?:p|h|span)>`)
)

// extractODP emits one "## Slide N" section per draw:page. Content outside
// any page is returned as plain text.
func extractODP(content []byte) (string, error) {
	zr, err := openZip("ODP", content)
	if err != nil {
		return "", err
	}
	data, err := findPart("ODP", zr, odpContentPath)
	if err != nil {
		return "", err
	}
	pages := odpPage.FindAllString(string(data), -1)
	if len(pages) == 0 {
		return joinMatches(odfText, string(data)), nil
	}
	var out sections
	for i, page := range pages {
		out.add("Slide "+strconv.Itoa(i+1), joinMatches(odfText, page))
	}
	return out.String(), nil
}
