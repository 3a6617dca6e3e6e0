package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/event"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// formatPrice renders the price range; unknown prices print as "price n/a".
func formatPrice(lo, hi *float64) string {
	switch {
	case lo == nil && hi == nil:
		return "price n/a"
	case lo != nil && *lo == 0 && (hi == nil || *hi == 0):
		return "free"
	case lo != nil && hi != nil && *hi > *lo:
		return fmt.Sprintf("$%.0f-$%.0f", *lo, *hi)
	case lo != nil:
		return fmt.Sprintf("$%.0f", *lo)
	default:
		return fmt.Sprintf("up to $%.0f", *hi)
	}
}

// writeEvents prints one block per event: title line, then when/where/price.
func writeEvents(w io.Writer, events []event.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}
	for _, e := range events {
		title := colorize(colorBold, e.Title)
		if e.NeedsReview {
			title += " " + colorize(colorYellow, "[review]")
		}
		fmt.Fprintf(w, "\n%s  %s\n", title, colorize(colorCyan, shortID(e.ID)))

		where := e.Venue
		if e.Location != "" {
			if where != "" {
				where += ", "
			}
			where += e.Location
		}
		parts := []string{e.StartTime.Local().Format("Mon Jan 2 15:04")}
		if where != "" {
			parts = append(parts, where)
		}
		parts = append(parts, formatPrice(e.PriceMin, e.PriceMax))
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, " · "))
		if len(e.Categories) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(e.Categories, ", "))
		}
		fmt.Fprintf(w, "  %s\n", e.SourceURL)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
