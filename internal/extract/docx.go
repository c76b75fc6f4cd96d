package extract

import (
	"archive/zip"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wtTag matches <w:t>text</w:t> or <w:t xml:space="preserve">text</w:t> (and any other attributes).
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != contentTypesPath {
			continue
		}
		data, err := readPart("DOCX", f)
		if err != nil {
			return ""
		}
		content := string(data)
		// Try both attribute orders
		if matches := partNameRe.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimPrefix(matches[1], "/")
		}
		if matches := partNameRe2.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimPrefix(matches[1], "/")
		}
		return ""
	}
	return ""
}

var (
	// wpPara matches one paragraph; <w:pPr> and friends do not start a paragraph.
	wpPara = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*)?>.*?</w:p>`)
	// wpHeading captures the level of a built-in heading style.
	wpHeading = regexp.MustCompile(`<w:pStyle w:val="Heading([1-6])"`)
)

// extractDOCX extracts markdown from .docx bytes. Each <w:p> becomes a
// paragraph; paragraphs styled Heading1..Heading6 become headings. Text is
// read from <w:t> runs regardless of paragraph or run attributes, which
// lu4p/cat's unattributed <w:p> regex misses in real-world documents.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip("DOCX", content)
	if err != nil {
		return "", err
	}

	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	data, err := findPart("DOCX", zr, docPath)
	if err != nil {
		return "", err
	}
	docXML := string(data)

	paras := wpPara.FindAllString(docXML, -1)
	if len(paras) == 0 {
		return joinMatches(wtTag, docXML), nil
	}
	var blocks []string
	for _, p := range paras {
		var text strings.Builder
		for _, run := range wtTag.FindAllStringSubmatch(p, -1) {
			text.WriteString(run[1])
		}
		line := strings.Join(strings.Fields(text.String()), " ")
		if line == "" {
			continue
		}
		if m := wpHeading.FindStringSubmatch(p); m != nil {
			level := int(m[1][0] - '0')
			line = strings.Repeat("#", level) + " " + line
		}
		blocks = append(blocks, line)
	}
	if len(blocks) == 0 {
		return "", nil
	}
	return strings.Join(blocks, "\n\n") + "\n", nil
}
