package markdown

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concat(src []byte, blocks []Block) []byte {
	var b bytes.Buffer
	for _, bl := range blocks {
		b.Write(src[bl.Start:bl.End])
	}
	return b.Bytes()
}

func TestParse_heading(t *testing.T) {
	src := []byte("# Hello\n")
	blocks := Parse(src)
	require.Len(t, blocks, 1)
	assert.Equal(t, KindHeading, blocks[0].Kind)
	assert.Equal(t, 1, blocks[0].Level)
	assert.Equal(t, "Hello", blocks[0].Title)
	assert.Equal(t, 0, blocks[0].Start)
	assert.Equal(t, len(src), blocks[0].End)
}

func TestParse_hashWithoutSpaceIsParagraph(t *testing.T) {
	blocks := Parse([]byte("#foo\n"))
	require.Len(t, blocks, 1)
	assert.Equal(t, KindParagraph, blocks[0].Kind)
}

func TestParse_headingLevels(t *testing.T) {
	tests := []struct {
		line  string
		kind  Kind
		level int
		title string
	}{
		{"## Two", KindHeading, 2, "Two"},
		{"###### Six  ", KindHeading, 6, "Six"},
		{"####### Seven", KindParagraph, 0, ""},
		{"# ", KindHeading, 1, ""},
		{"#", KindParagraph, 0, ""},
		{"# 日本語", KindHeading, 1, "日本語"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			blocks := Parse([]byte(tt.line + "\n"))
			require.Len(t, blocks, 1)
			assert.Equal(t, tt.kind, blocks[0].Kind)
			assert.Equal(t, tt.level, blocks[0].Level)
			assert.Equal(t, tt.title, blocks[0].Title)
		})
	}
}

func TestParse_emptyAndWhitespace(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n", " \t\r\n  \n"} {
		assert.Empty(t, Parse([]byte(in)), "input %q", in)
	}
}

func TestParse_paragraphRunsAndInterruptions(t *testing.T) {
	src := []byte("line one\nline two\n# Head\nafter\n```go\nx := 1\n```\ntail\n")
	blocks := Parse(src)
	kinds := make([]Kind, len(blocks))
	for i, b := range blocks {
		kinds[i] = b.Kind
	}
	assert.Equal(t, []Kind{KindParagraph, KindHeading, KindParagraph, KindCodeBlock, KindParagraph}, kinds)
	assert.Equal(t, "line one\nline two\n", string(src[blocks[0].Start:blocks[0].End]))
	assert.Equal(t, "go", blocks[3].Language)
	assert.Equal(t, "```go\nx := 1\n```\n", string(src[blocks[3].Start:blocks[3].End]))
	assert.Equal(t, src, concat(src, blocks))
}

func TestParse_fences(t *testing.T) {
	t.Run("tilde", func(t *testing.T) {
		src := []byte("~~~\ncode\n~~~\n")
		blocks := Parse(src)
		require.Len(t, blocks, 1)
		assert.Equal(t, KindCodeBlock, blocks[0].Kind)
		assert.Equal(t, "", blocks[0].Language)
		assert.Equal(t, len(src), blocks[0].End)
	})
	t.Run("mismatched char does not close", func(t *testing.T) {
		src := []byte("```\na\n~~~\nb\n```\nafter\n")
		blocks := Parse(src)
		require.Len(t, blocks, 2)
		assert.Equal(t, "```\na\n~~~\nb\n```\n", string(src[blocks[0].Start:blocks[0].End]))
	})
	t.Run("shorter run does not close", func(t *testing.T) {
		src := []byte("````\na\n```\n````\n")
		blocks := Parse(src)
		require.Len(t, blocks, 1)
		assert.Equal(t, len(src), blocks[0].End)
	})
	t.Run("unclosed runs to end", func(t *testing.T) {
		src := []byte("para\n```python\nprint(1)\n\n# not a heading\n")
		blocks := Parse(src)
		require.Len(t, blocks, 2)
		assert.Equal(t, KindCodeBlock, blocks[1].Kind)
		assert.Equal(t, "python", blocks[1].Language)
		assert.Equal(t, len(src), blocks[1].End)
	})
	t.Run("blank lines inside fence", func(t *testing.T) {
		src := []byte("```\na\n\n\nb\n```")
		blocks := Parse(src)
		require.Len(t, blocks, 1)
		assert.Equal(t, len(src), blocks[0].End)
	})
}

func TestParse_crlfAndUTF8Offsets(t *testing.T) {
	src := []byte("# Tïtle\r\nPárrafo ☃\r\nmore\r\n```\r\nçode\r\n```\r\n")
	blocks := Parse(src)
	require.Len(t, blocks, 3)
	assert.Equal(t, "Tïtle", blocks[0].Title)
	assert.Equal(t, "# Tïtle\r\n", string(src[blocks[0].Start:blocks[0].End]))
	assert.Equal(t, "Párrafo ☃\r\nmore\r\n", string(src[blocks[1].Start:blocks[1].End]))
	assert.Equal(t, "```\r\nçode\r\n```\r\n", string(src[blocks[2].Start:blocks[2].End]))
	assert.Equal(t, src, concat(src, blocks))
}

func TestParse_blankLinesBelongToFollowingBlock(t *testing.T) {
	src := []byte("\n# A\n\n\npara\n\n```\nx\n```\n\n\n")
	blocks := Parse(src)
	require.Len(t, blocks, 3)
	assert.Equal(t, "\n# A\n", string(src[blocks[0].Start:blocks[0].End]))
	assert.Equal(t, "\n\npara\n", string(src[blocks[1].Start:blocks[1].End]))
	assert.Equal(t, "\n```\nx\n```\n\n\n", string(src[blocks[2].Start:blocks[2].End]))
	assert.Equal(t, src, concat(src, blocks))
}

func TestParse_noTrailingNewline(t *testing.T) {
	src := []byte("# T\nP")
	blocks := Parse(src)
	require.Len(t, blocks, 2)
	assert.Equal(t, "P", string(src[blocks[1].Start:blocks[1].End]))
}

func TestParse_reconstructionWithoutBlankLines(t *testing.T) {
	inputs := []string{
		"# T\nP\n",
		"# A\n## B\ntext\n```\ncode\n```\n### C\nend",
		"plain paragraph only",
		"~~~sh\nls\n~~~\n# H\r\nbody\r\n",
	}
	for _, in := range inputs {
		src := []byte(in)
		assert.Equal(t, src, concat(src, Parse(src)), "input %q", in)
	}
}

func TestParse_rangesDisjointAndOrdered(t *testing.T) {
	src := []byte(strings.Repeat("# H\n\npara one\npara two\n\n```\nc\n```\n", 20))
	blocks := Parse(src)
	prev := 0
	for _, b := range blocks {
		assert.Equal(t, prev, b.Start)
		assert.Less(t, b.Start, b.End)
		prev = b.End
	}
	assert.Equal(t, len(src), prev)
}

func TestParseReader_matchesParse(t *testing.T) {
	src := []byte("# Title\n\nSome text\n\n```js\nlet a\n```\n")
	blocks, err := ParseReader(bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, Parse(src), blocks)
}
