package logger

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func stamp() string {
	return time.Now().Format("15:04:05")
}

func line(level, tag, msg string) {
	fmt.Printf("%s %s %s %s\n", faint(stamp()), level, bold("["+tag+"]"), msg)
}

// Info logs a neutral progress message.
func Info(tag, msg string) {
	line(cyan("INFO"), tag, msg)
}

// Success logs a completed step.
func Success(tag, msg string) {
	line(green(" OK "), tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line(yellow("WARN"), tag, msg)
}

// Error logs a failure. The caller decides whether it is fatal.
func Error(tag, msg string) {
	line(red("FAIL"), tag, msg)
}

// Banner prints the startup banner.
func Banner(version string) {
	title := "stockcast"
	if version != "" {
		title += " " + version
	}
	bar := strings.Repeat("=", len(title)+4)
	fmt.Println(bold(bar))
	fmt.Println(bold("  " + title))
	fmt.Println(bold(bar))
}

// Section prints a header for a grouped block of stats.
func Section(name string) {
	fmt.Printf("\n%s\n%s\n", bold(name), faint(strings.Repeat("-", len(name))))
}

// Stats prints one aligned key/value line under a Section.
func Stats(key string, value any) {
	fmt.Printf("  %-26s %v\n", key+":", value)
}
