package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Color scheme for drift
var (
	Success = color.New(color.FgGreen)
	Error   = color.New(color.FgRed, color.Bold)
	Warning = color.New(color.FgYellow)
	Info    = color.New(color.FgCyan)

	Highlight = color.New(color.FgHiCyan, color.Bold)
	Muted     = color.New(color.Faint)
	Bold      = color.New(color.Bold)

	CheckMark = color.GreenString("✓")
	CrossMark = color.RedString("✗")
	Arrow     = color.CyanString("→")

	// Artifact kind colors
	KindAppImage  = color.New(color.FgMagenta)
	KindBinary    = color.New(color.FgBlue)
	KindFlatImage = color.New(color.FgYellow)
)

// InitColors initializes color settings based on environment
func InitColors() {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	if os.Getenv("TERM") == "dumb" {
		color.NoColor = true
	}
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	Success.Fprintf(os.Stdout, "%s %s\n", CheckMark, fmt.Sprintf(format, args...))
}

// PrintError prints an error message
func PrintError(format string, args ...interface{}) {
	Error.Fprintf(os.Stderr, "%s Error: %s\n", CrossMark, fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	Warning.Fprintf(os.Stderr, "Warning: %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	Info.Fprintf(os.Stdout, "%s %s\n", Arrow, fmt.Sprintf(format, args...))
}

// PrintStep prints a step indicator
func PrintStep(step, total int, format string, args ...interface{}) {
	Highlight.Fprintf(os.Stdout, "[%d/%d] ", step, total)
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

// PrintKeyValue prints a key-value pair with color
func PrintKeyValue(key, value string) {
	Bold.Fprintf(os.Stdout, "%s: ", key)
	fmt.Fprintln(os.Stdout, value)
}

// PrintHeader prints a section header
func PrintHeader(text string) {
	fmt.Fprintln(os.Stdout)
	Bold.Fprintln(os.Stdout, text)
	Muted.Fprintln(os.Stdout, "────────────────────────────────────────")
}

// ColorizeKind returns a colored artifact kind string
func ColorizeKind(kind string) string {
	switch kind {
	case "appimage":
		return KindAppImage.Sprint(kind)
	case "flatimage":
		return KindFlatImage.Sprint(kind)
	case "binary":
		return KindBinary.Sprint(kind)
	default:
		return kind
	}
}
