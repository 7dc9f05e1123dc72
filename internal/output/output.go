// Package output provides styled terminal output helpers for the navsync CLI
// using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/navsync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	kindStyles   = map[models.Kind]lipgloss.Style{
		models.KindZone:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.KindArea:   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.KindCell:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.KindBeacon: lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatKind formats a kind tag with its colour.
func FormatKind(k models.Kind) string {
	style, ok := kindStyles[k]
	if !ok {
		return fmt.Sprintf("[%s]", k)
	}
	return style.Render(fmt.Sprintf("[%s]", k))
}

// Summary is the one-line description of an entity's own attributes.
func Summary(e models.Entity) string {
	if e.IsPlaceholder() {
		return "(placeholder)"
	}
	switch v := e.(type) {
	case *models.Zone:
		s := fmt.Sprintf("level %d", v.Level)
		if len(v.Image) > 0 {
			s += fmt.Sprintf(", image %d bytes", len(v.Image))
		}
		return s
	case *models.Area:
		return fmt.Sprintf("%q in %s", v.Name, v.ZoneID)
	case *models.Cell:
		s := fmt.Sprintf("%s at (%d,%d) in %s", v.Type, v.Row, v.Col, v.ZoneID)
		if v.AreaID != "" {
			s += "/" + string(v.AreaID)
		}
		return s
	case *models.Beacon:
		return fmt.Sprintf("%s %d dBm on %s", v.MACAddress, v.SignalStrength, v.CellID)
	}
	return ""
}

// FormatEntityShort formats an entity on one line.
func FormatEntityShort(e models.Entity) string {
	parts := []string{
		titleStyle.Render(string(e.Identity())),
		FormatKind(e.Kind()),
	}
	if e.IsPlaceholder() {
		parts = append(parts, warningStyle.Render(Summary(e)))
	} else {
		parts = append(parts, Summary(e))
	}
	if !e.LastModified().IsZero() {
		parts = append(parts, subtleStyle.Render(FormatTimeAgo(e.LastModified())))
	}
	return strings.Join(parts, "  ")
}

// EntityMarkdown describes an entity and its children as markdown.
func EntityMarkdown(e models.Entity, children []models.Entity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", e.Identity())
	sb.WriteString("| field | value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| kind | %s |\n", e.Kind())
	if p := e.ParentIdentity(); p != "" {
		fmt.Fprintf(&sb, "| parent | %s |\n", p)
	}
	fmt.Fprintf(&sb, "| details | %s |\n", Summary(e))
	if !e.LastModified().IsZero() {
		fmt.Fprintf(&sb, "| last modified | %s |\n", e.LastModified().Format(time.RFC3339Nano))
	}
	if e.IsPlaceholder() {
		sb.WriteString("\n> Placeholder: the real record has not been downloaded yet.\n")
	}
	if len(children) > 0 {
		fmt.Fprintf(&sb, "\n## Children (%d)\n\n", len(children))
		for _, c := range children {
			fmt.Fprintf(&sb, "- `%s` %s\n", c.Identity(), Summary(c))
		}
	}
	return sb.String()
}

// FormatProgress renders a fraction in [0,1] as a bar.
func FormatProgress(fraction float64, width int) string {
	fraction = max(0, min(1, fraction))
	if width <= 0 {
		width = 20
	}
	filled := int(fraction * float64(width))
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
	return fmt.Sprintf("[%s] %3.0f%%", bar, fraction*100)
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
// e.g., "\nPENDING:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
