package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"sifter/internal/events"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	return paint(base, statusKindColor(kind), colorize)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	return []string{paint(line, ansiBlue, colorize), paint(rule, ansiBlue, colorize)}
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderEvent formats one progress event for terminal output.
func renderEvent(evt events.Event, colorize bool) string {
	switch evt.Type {
	case events.TypeStarted:
		if evt.Start == nil {
			return paint("Run started", ansiBlue, colorize)
		}
		line := fmt.Sprintf("Processing %d rows from %s (sheet %s) in %d chunk(s) of %d",
			evt.Start.TotalRows, evt.Start.SourceLocator, evt.Start.Sheet, evt.Start.EstimatedChunks, evt.Start.ChunkSize)
		if evt.Start.ResumeFrom > 0 {
			line += fmt.Sprintf(", resuming at row %d", evt.Start.ResumeFrom+1)
		}
		return paint(line, ansiBlue, colorize)
	case events.TypeChunkStarted:
		if evt.Progress == nil {
			return fmt.Sprintf("Chunk %d started", evt.Chunk)
		}
		return fmt.Sprintf("Chunk %d: rows %d-%d (%d terms)", evt.Chunk, evt.Progress.RowStart, evt.Progress.RowEnd, evt.Progress.Submitted)
	case events.TypeChunkSkipped:
		return paint(fmt.Sprintf("Chunk %d skipped: %s", evt.Chunk, evt.Message), ansiYellow, colorize)
	case events.TypeChunkCompleted:
		p := evt.Progress
		if p == nil {
			return paint(fmt.Sprintf("Chunk %d completed", evt.Chunk), ansiGreen, colorize)
		}
		line := fmt.Sprintf("Chunk %d: accepted %d (total %d) %5.1f%% [%d/%d rows, %d chunk(s) left]",
			evt.Chunk, p.ChunkAccepted, p.TotalAccepted, p.Percent, p.Position, p.TotalRows, p.RemainingChunks)
		if p.Replayed {
			line += " (already merged)"
		}
		if len(p.AcceptedTerms) > 0 {
			line += "\n    " + strings.Join(p.AcceptedTerms, ", ")
		}
		for _, sample := range p.SampleReasons {
			line += fmt.Sprintf("\n    %s: %s", sample.Term, sample.Reason)
		}
		return paint(line, ansiGreen, colorize)
	case events.TypeChunkFailed:
		return paint(fmt.Sprintf("Chunk %d failed (%s): %s", evt.Chunk, evt.ErrorKind, evt.Error), ansiYellow, colorize)
	case events.TypeCompleted:
		if evt.Summary == nil {
			return paint("Completed", ansiGreen, colorize)
		}
		s := evt.Summary
		line := fmt.Sprintf("Completed: %d term(s) accepted from %d rows", s.TotalAccepted, s.TotalRows)
		if s.FailedChunks > 0 {
			line += fmt.Sprintf(", %d chunk(s) failed", s.FailedChunks)
		}
		if s.ResultLocator != "" {
			line += "\nResults: " + s.ResultLocator
		}
		return paint(line, ansiGreen, colorize)
	case events.TypeFailed:
		return paint(fmt.Sprintf("Failed (%s): %s", evt.ErrorKind, evt.Error), ansiRed, colorize)
	case events.TypeCancelled:
		return paint("Cancelled; run the session again to resume", ansiYellow, colorize)
	default:
		return string(evt.Type)
	}
}
