package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

const (
	ttyRefresh   = 250 * time.Millisecond
	plainRefresh = time.Second
)

func colorize(s string, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + colorReset
}

// IsTTY reports whether w is a terminal. Writers wrapping a file may expose
// it with a File method.
func IsTTY(w io.Writer) bool {
	var f *os.File
	switch v := w.(type) {
	case *os.File:
		f = v
	case interface{ File() *os.File }:
		f = v.File()
	}
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// RenderReceiver draws view until ctx is done or the returned stop function
// is called. Terminals get a live table; other writers get one status line
// whenever the view changes. onInterrupt runs when the user presses Ctrl-C
// in the live table.
func RenderReceiver(ctx context.Context, w io.Writer, view func() ReceiverView, onInterrupt func()) func() {
	if IsTTY(w) {
		return renderReceiverTea(ctx, w, view, onInterrupt)
	}
	return renderReceiverPlain(ctx, w, view)
}

func renderReceiverPlain(ctx context.Context, w io.Writer, view func() ReceiverView) func() {
	ticker := time.NewTicker(plainRefresh)
	stop := make(chan struct{})
	done := make(chan struct{})
	var last string

	renderOnce := func() {
		line := formatPlainLine(view())
		if line == last {
			return
		}
		last = line
		fmt.Fprintln(w, line)
	}

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				renderOnce()
				return
			case <-stop:
				renderOnce()
				return
			case <-ticker.C:
				renderOnce()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}

func formatPlainLine(v ReceiverView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "active=%d completed=%d failed=%d", len(v.Active), v.Completed, v.Failed)
	for _, row := range v.Active {
		fmt.Fprintf(&b, " | %s %s %5.1f%% %s ETA %s",
			shortID(row.ID),
			formatChunks(row.Chunks, row.ExpectedChunks),
			row.Stats.Percent,
			formatRate(row.Stats.RateBps),
			formatETA(row.Stats.ETA),
		)
	}
	if v.LastSaved != "" {
		fmt.Fprintf(&b, " | last=%s", v.LastSaved)
	}
	return b.String()
}

func renderReceiverTTY(v ReceiverView) string {
	var b strings.Builder
	if v.Listen != "" {
		fmt.Fprintln(&b, colorize("listening on "+v.Listen, colorCyan, true))
	}
	if v.OutDir != "" {
		fmt.Fprintf(&b, "saving to %s\n", v.OutDir)
	}

	headers := []string{"transfer", "chunks", "progress", "%", "rate", "ETA"}
	widths := []int{8, 13, 22, 5, 10, 8}
	rows := make([][]string, 0, len(v.Active))
	for _, row := range v.Active {
		rows = append(rows, []string{
			shortID(row.ID),
			formatChunks(row.Chunks, row.ExpectedChunks),
			renderBar(row.Stats.Percent, 20),
			fmt.Sprintf("%.1f", row.Stats.Percent),
			formatRate(row.Stats.RateBps),
			formatETA(row.Stats.ETA),
		})
	}
	renderTable(&b, headers, rows, widths)

	summary := fmt.Sprintf("completed %d", v.Completed)
	fmt.Fprint(&b, colorize(summary, colorGreen, true))
	if v.Failed > 0 {
		fmt.Fprint(&b, "  ", colorize(fmt.Sprintf("failed %d", v.Failed), colorRed, true))
	}
	fmt.Fprintln(&b)
	if v.LastSaved != "" {
		fmt.Fprintf(&b, "last saved %s\n", v.LastSaved)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func renderBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int((percent / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func renderTable(w io.Writer, headers []string, rows [][]string, widths []int) int {
	lines := 0
	border := buildBorder(widths)
	fmt.Fprintln(w, border)
	lines++
	fmt.Fprintln(w, buildRow(headers, widths))
	lines++
	fmt.Fprintln(w, border)
	lines++
	for _, row := range rows {
		fmt.Fprintln(w, buildRow(row, widths))
		lines++
	}
	fmt.Fprintln(w, border)
	lines++
	return lines
}

func buildBorder(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, width := range widths {
		b.WriteString(strings.Repeat("-", width+2))
		b.WriteString("+")
	}
	return b.String()
}

func buildRow(values []string, widths []int) string {
	var b strings.Builder
	b.WriteString("|")
	for i, width := range widths {
		cell := ""
		if i < len(values) {
			cell = values[i]
		}
		b.WriteString(" ")
		b.WriteString(padRight(cell, width))
		b.WriteString(" |")
	}
	return b.String()
}

func padRight(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatChunks(done int, expected uint32) string {
	if expected == 0 {
		return fmt.Sprintf("%d/?", done)
	}
	return fmt.Sprintf("%d/%d", done, expected)
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	if bps >= g {
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	}
	if bps >= m {
		return fmt.Sprintf("%.1f MB/s", bps/float64(m))
	}
	if bps >= k {
		return fmt.Sprintf("%.0f KB/s", bps/float64(k))
	}
	return fmt.Sprintf("%.0f B/s", bps)
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	secs := int(d.Seconds())
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
