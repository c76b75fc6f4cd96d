// Package markdown splits markdown source into byte-addressed blocks
// (headings, paragraphs and fenced code blocks).
package markdown

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Kind is the block type.
type Kind string

const (
	KindHeading   Kind = "heading"
	KindParagraph Kind = "paragraph"
	KindCodeBlock Kind = "codeblock"
)

// Block is one parsed block. Start and End are half-open byte offsets into
// the parsed input.
type Block struct {
	Kind  Kind
	Start int
	End   int
	// Level and Title are set for headings.
	Level int
	Title string
	// Language is the fence info string of a code block, empty when absent.
	Language string
}

// Len returns the byte length of the block.
func (b Block) Len() int { return b.End - b.Start }

// Parse splits src into blocks. Blank lines before a block are part of that
// block and blank lines at the end of input are part of the last block, so
// the concatenation of all block ranges equals src whenever src holds any
// non-blank line. Empty and whitespace-only input yields no blocks.
func Parse(src []byte) []Block {
	blocks, _ := ParseReader(bytes.NewReader(src))
	return blocks
}

// ParseReader is Parse over a stream. Only the current line is buffered.
func ParseReader(r io.Reader) ([]Block, error) {
	p := &parser{pending: -1}
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			p.line(line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return p.finish(), nil
}

type parser struct {
	blocks []Block
	offset int
	// pending is the offset of blank lines not yet owned by a block, or -1.
	pending int

	para      *Block
	fence     *Block
	fenceChar byte
	fenceLen  int
}

func (p *parser) line(line []byte) {
	start := p.offset
	p.offset += len(line)
	text := trimEOL(line)

	if p.fence != nil {
		if isClosingFence(text, p.fenceChar, p.fenceLen) {
			p.fence.End = p.offset
			p.emit(p.fence)
			p.fence = nil
		}
		return
	}

	if len(bytes.TrimSpace(text)) == 0 {
		p.closeParagraph(start)
		if p.pending < 0 {
			p.pending = start
		}
		return
	}

	if level, title, ok := parseHeading(text); ok {
		p.closeParagraph(start)
		p.emit(&Block{Kind: KindHeading, Start: p.claim(start), End: p.offset, Level: level, Title: title})
		return
	}

	if ch, n, lang, ok := parseOpeningFence(text); ok {
		p.closeParagraph(start)
		p.fence = &Block{Kind: KindCodeBlock, Start: p.claim(start), Language: lang}
		p.fenceChar, p.fenceLen = ch, n
		return
	}

	if p.para == nil {
		p.para = &Block{Kind: KindParagraph, Start: p.claim(start)}
	}
	p.para.End = p.offset
}

// claim returns the start of a new block, absorbing pending blank lines.
func (p *parser) claim(start int) int {
	if p.pending >= 0 {
		start = p.pending
		p.pending = -1
	}
	return start
}

func (p *parser) closeParagraph(at int) {
	if p.para == nil {
		return
	}
	p.para.End = at
	p.emit(p.para)
	p.para = nil
}

func (p *parser) emit(b *Block) {
	p.blocks = append(p.blocks, *b)
}

func (p *parser) finish() []Block {
	if p.fence != nil {
		p.fence.End = p.offset
		p.emit(p.fence)
		p.fence = nil
	}
	p.closeParagraph(p.offset)
	if p.pending >= 0 && len(p.blocks) > 0 {
		p.blocks[len(p.blocks)-1].End = p.offset
	}
	return p.blocks
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// parseHeading matches 1-6 '#' followed by a space at the start of the line.
func parseHeading(text []byte) (int, string, bool) {
	level := 0
	for level < len(text) && text[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(text) || text[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(string(text[level+1:])), true
}

func fenceIndent(text []byte) int {
	i := 0
	for i < len(text) && i < 3 && text[i] == ' ' {
		i++
	}
	return i
}

func parseOpeningFence(text []byte) (byte, int, string, bool) {
	i := fenceIndent(text)
	if i >= len(text) || (text[i] != '`' && text[i] != '~') {
		return 0, 0, "", false
	}
	ch := text[i]
	n := 0
	for i+n < len(text) && text[i+n] == ch {
		n++
	}
	if n < 3 {
		return 0, 0, "", false
	}
	info := bytes.TrimSpace(text[i+n:])
	if ch == '`' && bytes.IndexByte(info, '`') >= 0 {
		return 0, 0, "", false
	}
	return ch, n, string(info), true
}

func isClosingFence(text []byte, ch byte, minLen int) bool {
	i := fenceIndent(text)
	n := 0
	for i+n < len(text) && text[i+n] == ch {
		n++
	}
	if n < minLen {
		return false
	}
	return len(bytes.TrimSpace(text[i+n:])) == 0
}
