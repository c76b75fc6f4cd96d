// Package cli formats search results, rendered documents and status for the
// command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetWidth bounds a snippet line in text output.
const snippetWidth = 200

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Unknown formats fall back to text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d %s results in %dms", response.Total, response.Mode, response.QueryTime)
	if response.Strategy != "" {
		fmt.Fprintf(w, " (%s)", response.Strategy)
	}
	fmt.Fprint(w, "\n\n")
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%d. [@%s] %s | Score: %.4f\n", result.Rank, result.ShortID, result.Kind, result.Score)
	fmt.Fprintf(w, "Document: %s\n", result.DocID)
	if result.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", result.Title)
	}
	if result.Snippet != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(utils.OneLine(result.Snippet), snippetWidth))
	}
	fmt.Fprintln(w)
}

// WriteRendered writes rendered document bytes verbatim.
func WriteRendered(w io.Writer, out []byte) error {
	_, err := w.Write(out)
	return err
}

// WriteIngestResult reports one ingested document.
func WriteIngestResult(w io.Writer, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	if res.Skipped {
		fmt.Fprintf(w, "%s: unchanged\n", res.DocID)
		return nil
	}
	fmt.Fprintf(w, "%s: %d nodes, %d embedded\n", res.DocID, res.Nodes, res.Embedded)
	return nil
}

// WriteStats writes index statistics.
func WriteStats(w io.Writer, stats *models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	fmt.Fprintf(w, "Documents:     %d\n", stats.Documents)
	fmt.Fprintf(w, "Nodes:         %d\n", stats.Nodes)
	fmt.Fprintf(w, "Keyword docs:  %d\n", stats.KeywordDocs)
	names := make([]string, 0, len(stats.Embeddings))
	for m := range stats.Embeddings {
		names = append(names, m)
	}
	sort.Strings(names)
	for _, m := range names {
		fmt.Fprintf(w, "Embeddings:    %d (%s)\n", stats.Embeddings[m], m)
	}
	fmt.Fprintf(w, "Vector index:  %s\n", availability(stats.VecAvailable))
	fmt.Fprintf(w, "Disk usage:    %s\n", FormatBytes(stats.DiskBytes))
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
