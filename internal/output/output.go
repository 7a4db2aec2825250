// Package output provides styled terminal output helpers (success, error,
// warning, cycle summary formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
	cardsync "github.com/marcus/cardsync/internal/sync"
)

var (
	// Styles
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	outcomeStyles = map[cardsync.Outcome]lipgloss.Style{
		cardsync.OutcomeCompleted:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		cardsync.OutcomeOffline:         lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		cardsync.OutcomeCheckFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		cardsync.OutcomeLocalReadFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		cardsync.OutcomeCancelled:       lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeDatabaseError = "database_error"
	ErrCodeOffline       = "offline"
	ErrCodeSyncFailed    = "sync_failed"
	ErrCodeLockHeld      = "lock_held"
	ErrCodeConfigError   = "config_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
	fmt.Println(string(data))
}

// FormatOutcome formats a cycle outcome with color
func FormatOutcome(o cardsync.Outcome) string {
	style, ok := outcomeStyles[o]
	if !ok {
		return string(o)
	}
	return style.Render(fmt.Sprintf("[%s]", o))
}

// FormatConnectivity renders a network state, e.g. "online (wifi)".
func FormatConnectivity(s netmon.State) string {
	switch {
	case s.Online():
		return fmt.Sprintf("online (%s)", s.Transport)
	case s.IsConnected:
		return fmt.Sprintf("connected, internet unreachable (%s)", s.Transport)
	default:
		return "offline"
	}
}

// FormatTableResult formats one table line of a cycle summary
// e.g., "flashcard_reviews  2/2 ✓"
func FormatTableResult(r cardsync.TableResult) string {
	counts := fmt.Sprintf("%d/%d", r.Succeeded, r.Attempted)
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%-18s %s %s", r.Table, counts, errorStyle.Render("✗ "+r.Err.Error()))
	case r.MarkErr != nil:
		return fmt.Sprintf("%-18s %s %s", r.Table, counts, warningStyle.Render("! not marked: "+r.MarkErr.Error()))
	default:
		return fmt.Sprintf("%-18s %s %s", r.Table, counts, successStyle.Render("✓"))
	}
}

// FormatSummary formats a cycle summary for the terminal.
func FormatSummary(s cardsync.CycleSummary) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Sync") + "  " + FormatOutcome(s.Outcome))
	if d := s.Duration(); d > 0 {
		sb.WriteString("  " + subtleStyle.Render(d.Round(time.Millisecond).String()))
	}
	if s.Shared {
		sb.WriteString("  " + subtleStyle.Render("(joined running cycle)"))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Network: %s\n", FormatConnectivity(s.Connectivity)))

	if s.Err != nil && len(s.Tables) == 0 {
		sb.WriteString(errorStyle.Render(s.Err.Error()) + "\n")
	}

	switch {
	case s.Outcome == cardsync.OutcomeCompleted && len(s.Tables) == 0:
		sb.WriteString(subtleStyle.Render("Nothing to sync") + "\n")
	case len(s.Tables) > 0:
		lines := make([]string, len(s.Tables))
		for i, r := range s.Tables {
			lines[i] = FormatTableResult(r)
		}
		sb.WriteString(SectionHeader("Tables"))
		sb.WriteString(strings.Join(IndentLines(lines, 2), "\n") + "\n")
		sb.WriteString(fmt.Sprintf("\nPushed %d record(s)\n", s.Pushed()))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// SummaryJSON is the --json shape of a cycle summary. Errors are flattened to
// strings.
type SummaryJSON struct {
	Outcome      cardsync.Outcome `json:"outcome"`
	Error        string           `json:"error,omitempty"`
	Connectivity netmon.State     `json:"connectivity"`
	Tables       []TableJSON      `json:"tables"`
	Pushed       int              `json:"pushed"`
	Shared       bool             `json:"shared"`
	StartedAt    time.Time        `json:"started_at"`
	DurationMS   int64            `json:"duration_ms"`
}

// TableJSON is one table of SummaryJSON.
type TableJSON struct {
	Table     models.Table `json:"table"`
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Error     string       `json:"error,omitempty"`
	MarkError string       `json:"mark_error,omitempty"`
}

// NewSummaryJSON converts a summary for JSON output.
func NewSummaryJSON(s cardsync.CycleSummary) SummaryJSON {
	out := SummaryJSON{
		Outcome:      s.Outcome,
		Connectivity: s.Connectivity,
		Tables:       make([]TableJSON, 0, len(s.Tables)),
		Pushed:       s.Pushed(),
		Shared:       s.Shared,
		StartedAt:    s.StartedAt,
		DurationMS:   s.Duration().Milliseconds(),
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	for _, r := range s.Tables {
		t := TableJSON{Table: r.Table, Attempted: r.Attempted, Succeeded: r.Succeeded}
		if r.Err != nil {
			t.Error = r.Err.Error()
		}
		if r.MarkErr != nil {
			t.MarkError = r.MarkErr.Error()
		}
		out.Tables = append(out.Tables, t)
	}
	return out
}

// FormatPending formats unsynced counts in table dispatch order.
func FormatPending(counts map[models.Table]int) string {
	lines := make([]string, 0, len(models.Tables))
	total := 0
	for _, t := range models.Tables {
		n := counts[t]
		total += n
		line := fmt.Sprintf("%-18s %d", t, n)
		if n == 0 {
			line = subtleStyle.Render(line)
		}
		lines = append(lines, line)
	}
	header := fmt.Sprintf("Pending: %d record(s)", total)
	return header + "\n" + strings.Join(IndentLines(lines, 2), "\n")
}

// FormatHistory formats sync history rows grouped by cycle, newest last.
func FormatHistory(entries []db.SyncHistoryEntry) string {
	if len(entries) == 0 {
		return subtleStyle.Render("No sync history")
	}

	type cycle struct {
		at   time.Time
		rows []db.SyncHistoryEntry
	}
	byTime := map[time.Time]*cycle{}
	var cycles []*cycle
	for _, e := range entries {
		c, ok := byTime[e.CycleAt]
		if !ok {
			c = &cycle{at: e.CycleAt}
			byTime[e.CycleAt] = c
			cycles = append(cycles, c)
		}
		c.rows = append(c.rows, e)
	}
	sort.SliceStable(cycles, func(i, j int) bool { return cycles[i].at.Before(cycles[j].at) })

	var sb strings.Builder
	for i, c := range cycles {
		if i > 0 {
			sb.WriteString("\n")
		}
		first := c.rows[0]
		sb.WriteString(fmt.Sprintf("%s  %s  %s\n",
			titleStyle.Render(c.at.Local().Format("2006-01-02 15:04:05")),
			FormatOutcome(cardsync.Outcome(first.Outcome)),
			subtleStyle.Render(FormatTimeAgo(c.at))))
		for _, r := range c.rows {
			if r.Table == "" {
				if r.Error != "" {
					sb.WriteString("  " + errorStyle.Render(r.Error) + "\n")
				}
				continue
			}
			line := fmt.Sprintf("  %-18s %d/%d", r.Table, r.Succeeded, r.Attempted)
			if r.Error != "" {
				line += " " + errorStyle.Render("✗ "+r.Error)
			}
			sb.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nTABLES:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// FormatKeyValues aligns config key/value pairs.
func FormatKeyValues(pairs [][2]string) string {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	lines := make([]string, len(pairs))
	for i, kv := range pairs {
		val := kv[1]
		if val == "" {
			val = subtleStyle.Render("(unset)")
		}
		lines[i] = fmt.Sprintf("%-*s  %s", width, kv[0], val)
	}
	return strings.Join(lines, "\n")
}
