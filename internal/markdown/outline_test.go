package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParents(t *testing.T) {
	src := []byte("# A\nintro\n## B\nb text\n### C\n## D\n# E\nfinal\n")
	blocks := Parse(src)
	// A intro B btext C D E final
	assert.Equal(t, []int{-1, 0, 0, 2, 2, 0, -1, 6}, Parents(blocks))
}

func TestParents_noHeadings(t *testing.T) {
	blocks := Parse([]byte("one\n\ntwo\n"))
	assert.Equal(t, []int{-1, -1}, Parents(blocks))
}

func TestBody(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"heading", "\n## Title here\n", "Title here"},
		{"paragraph", "\n\n  some text\nmore  \n", "some text\nmore"},
		{"code", "```go\nfmt.Println()\nx := 1\n```\n", "fmt.Println()\nx := 1"},
		{"code crlf", "~~~\r\na\r\nb\r\n~~~\r\n", "a\nb"},
		{"unclosed", "```\nonly\n", "only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := []byte(tt.src)
			blocks := Parse(src)
			if assert.Len(t, blocks, 1) {
				b := blocks[0]
				assert.Equal(t, tt.want, Body(src[b.Start:b.End], b))
			}
		})
	}
}
