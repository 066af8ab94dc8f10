// Package cli provides output formatting for the kioku CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/scanner"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const previewLen = 200

const separator = "─────────────────────────────────────────────────────────"

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SearchOutput is the JSON shape of a search command.
type SearchOutput struct {
	Query   string                 `json:"query"`
	GroupID string                 `json:"group_id,omitempty"`
	Results []*models.SearchResult `json:"results"`
}

// WriteSearchResults writes ranked results to w in the given format.
func WriteSearchResults(w io.Writer, out *SearchOutput, format OutputFormat) error {
	if out.Results == nil {
		out.Results = []*models.SearchResult{}
	}
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "\nFound %d results for %q\n\n", len(out.Results), out.Query)
	for _, r := range out.Results {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Group: %s\n", r.Rank, r.Score, r.Metadata.GroupID)
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		writeExtras(w, r.Metadata)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Content, previewLen))
	}
	return nil
}

// WriteEntry writes a single entry with its full content.
func WriteEntry(w io.Writer, entry *models.Entry, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, entry)
	}
	fmt.Fprintf(w, "ID: %s\n", entry.ID)
	fmt.Fprintf(w, "Group: %s\n", entry.Metadata.GroupID)
	if !entry.Metadata.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created: %s\n", entry.Metadata.CreatedAt.Local().Format(time.RFC3339))
	}
	writeExtras(w, entry.Metadata)
	fmt.Fprintf(w, "\n%s\n", entry.Content)
	return nil
}

// WriteEntries writes a group listing, one preview line per entry.
func WriteEntries(w io.Writer, groupID string, entries []*models.Entry, format OutputFormat) error {
	if format == OutputJSON {
		if entries == nil {
			entries = []*models.Entry{}
		}
		return writeJSON(w, map[string]interface{}{"group_id": groupID, "entries": entries})
	}
	fmt.Fprintf(w, "%d entries in group %q\n", len(entries), groupID)
	for _, e := range entries {
		preview := strings.Join(strings.Fields(e.Content), " ")
		fmt.Fprintf(w, "  %s  %s\n", e.ID, utils.Truncate(preview, 80))
	}
	return nil
}

// WriteStats writes engine statistics.
func WriteStats(w io.Writer, st *memory.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Entries:     %d\n", st.Entries)
	fmt.Fprintf(w, "Groups:      %d\n", len(st.Groups))
	for _, g := range sortedKeys(st.Groups) {
		fmt.Fprintf(w, "  %-24s %d\n", g, st.Groups[g])
	}
	fmt.Fprintf(w, "Embedder:    %s\n", st.Embedder)
	fmt.Fprintf(w, "Vocabulary:  %d terms over %d documents\n", st.VocabularySize, st.Documents)
	fmt.Fprintf(w, "Query mode:  %s\n", queryMode(st.QueryUpdates))
	fmt.Fprintf(w, "Disk usage:  %s\n", formatBytes(st.Disk.Total()))
	return nil
}

// WriteScanSummary writes the outcome of a scan.
func WriteScanSummary(w io.Writer, sum scanner.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, sum)
	}
	fmt.Fprintf(w, "Indexed %d files (%d unchanged, %d skipped, %d removed, %d failed)\n",
		sum.Indexed, sum.Unchanged, sum.Skipped, sum.Removed, sum.Failed)
	return nil
}

func writeExtras(w io.Writer, meta models.Metadata) {
	for _, k := range meta.Keys() {
		v, _ := meta.Get(k)
		fmt.Fprintf(w, "%s: %s\n", k, v.String())
	}
}

func queryMode(updates bool) string {
	if updates {
		return "online (queries update statistics)"
	}
	return "frozen"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
