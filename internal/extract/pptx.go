package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlide matches slide parts inside a .pptx zip and captures the slide number.
var pptxSlide = regexp.MustCompile(`^ppt/slides/slide([0-9]+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t> (and any other attributes).
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX emits one "## Slide N" section per slide, in slide order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip("PPTX", content)
	if err != nil {
		return "", err
	}
	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlide.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		data, err := readPart("PPTX", f)
		if err != nil {
			return "", err
		}
		slides = append(slides, slide{num: num, text: joinMatches(atTag, string(data))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var out sections
	for _, s := range slides {
		out.add("Slide "+strconv.Itoa(s.num), s.text)
	}
	return out.String(), nil
}

// joinMatches joins the trimmed first capture group of every match with spaces.
func joinMatches(re *regexp.Regexp, s string) string {
	var b strings.Builder
	for _, p := range re.FindAllStringSubmatch(s, -1) {
		text := strings.TrimSpace(p[1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
