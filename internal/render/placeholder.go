package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/bunsho/internal/blockid"
	"github.com/hyperjump/bunsho/internal/models"
)

// Placeholder is the parsed form of a collapsed-node marker.
type Placeholder struct {
	ShortID string
	Kind    models.NodeKind
	Bytes   int
}

var placeholderRe = regexp.MustCompile(`^\[@(\S+?) kind=([a-z]+) bytes=([0-9]+)\]$`)

// FormatPlaceholder returns the marker "[@XXXX kind=<kind> bytes=<n>]" for a node.
func FormatPlaceholder(n *models.Node) []byte {
	return []byte(fmt.Sprintf("[@%s kind=%s bytes=%d]", n.ShortID, n.Kind, n.Len()))
}

// ParsePlaceholder parses a single marker line. Surrounding whitespace is
// ignored. It reports false for anything that is not a well-formed marker,
// including ids that are not exactly four alphabet symbols.
func ParsePlaceholder(text string) (Placeholder, bool) {
	m := placeholderRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Placeholder{}, false
	}
	if len(m[1]) != blockid.ShortIDLen {
		return Placeholder{}, false
	}
	id, err := blockid.Normalize(m[1])
	if err != nil {
		return Placeholder{}, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return Placeholder{}, false
	}
	return Placeholder{ShortID: id, Kind: models.NodeKind(m[2]), Bytes: n}, true
}
