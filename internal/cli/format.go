package cli

import (
	"fmt"
	"strings"
	"time"

	"tradeshare/internal/conflict"
	"tradeshare/internal/models"
	"tradeshare/pkg/utils"
)

// timeFormat is replaced from ui.time_format at startup.
var timeFormat = "2006-01-02 15:04"

// FormatTime formats a timestamp in local time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

// FormatLastSynced formats a replica's last sync time.
func FormatLastSynced(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return FormatTime(*t)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatTags formats a tag list for a table cell.
func FormatTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	return strings.Join(tags, ", ")
}

// FormatLeg formats one leg, e.g. "-1 SPY 460 CALL 2024-08-16 @ $3.25".
func FormatLeg(l models.Leg) string {
	var b strings.Builder
	b.WriteString(utils.FormatQuantity(l.Quantity))
	b.WriteString(" ")
	b.WriteString(l.Symbol)
	if l.AssetType == models.AssetOption {
		fmt.Fprintf(&b, " %s %s", utils.FormatDecimal(l.Strike, 2), strings.ToUpper(string(l.OptionType)))
		if l.Expiration != nil {
			b.WriteString(" " + l.Expiration.Format("2006-01-02"))
		}
	}
	if !l.Premium.IsZero() {
		b.WriteString(" @ " + utils.FormatMoney(l.Premium))
	}
	return b.String()
}

// FormatDiffSummary summarizes a diff in one line.
func FormatDiffSummary(d conflict.Diff) string {
	if !conflict.HasConflicts(d) {
		if d.LegsChanged {
			return "legs changed"
		}
		return "no conflicts"
	}
	var parts []string
	if n := len(d.Tags.Added) + len(d.Tags.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tag", n)+plural(n))
	}
	if n := len(d.Comments.Added) + len(d.Comments.Removed) + len(d.Comments.Modified); n > 0 {
		parts = append(parts, fmt.Sprintf("%d comment", n)+plural(n))
	}
	if d.Details.Changed {
		parts = append(parts, "details")
	}
	if d.LegsChanged {
		parts = append(parts, "legs")
	}
	return strings.Join(parts, ", ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// ShortID shortens a uuid for table display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
