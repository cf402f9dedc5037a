// Package progress renders cluster startup progress in the terminal
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"
)

// Tracker is a progress bar for a counted operation
type Tracker struct {
	bar         *progressbar.ProgressBar
	description string
	startTime   time.Time
	mu          sync.Mutex
}

// Options configures a Tracker
type Options struct {
	Description     string
	Total           int64
	ShowElapsedTime bool
	Width           int
	Writer          io.Writer
}

// NewTracker creates a progress bar
func NewTracker(opts Options) *Tracker {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.Width == 0 {
		opts.Width = 30
	}

	barOpts := []progressbar.Option{
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionSetWidth(opts.Width),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	}
	if opts.ShowElapsedTime {
		barOpts = append(barOpts, progressbar.OptionShowElapsedTimeOnFinish())
	}

	return &Tracker{
		bar:         progressbar.NewOptions64(opts.Total, barOpts...),
		description: opts.Description,
		startTime:   time.Now(),
	}
}

// Add advances the bar by delta
func (t *Tracker) Add(delta int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bar.Add64(delta)
}

// SetDescription replaces the text shown before the bar
func (t *Tracker) SetDescription(desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.description = desc
	t.bar.Describe(desc)
}

// Description returns the text shown before the bar
func (t *Tracker) Description() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

// Finish fills the bar
func (t *Tracker) Finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bar.Finish()
}

// Current returns the bar's value
func (t *Tracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bar.State().CurrentNum
}

// ElapsedTime returns the time since the tracker was created
func (t *Tracker) ElapsedTime() time.Duration {
	return time.Since(t.startTime)
}

// Spinner shows indeterminate progress
type Spinner struct {
	spinner *pterm.SpinnerPrinter
}

// NewSpinner creates a spinner with the given text
func NewSpinner(text string) *Spinner {
	return &Spinner{
		spinner: pterm.DefaultSpinner.WithText(text),
	}
}

// Start starts the animation
func (s *Spinner) Start() {
	s.spinner, _ = s.spinner.Start()
}

// Success stops the spinner with a success message
func (s *Spinner) Success(msg string) {
	s.spinner.Success(msg)
}

// Fail stops the spinner with a failure message
func (s *Spinner) Fail(msg string) {
	s.spinner.Fail(msg)
}

// SectionHeader prints a section header
func SectionHeader(title string) {
	pterm.DefaultSection.Println(title)
}

// Success prints a success message
func Success(format string, a ...any) {
	pterm.Success.Printfln(format, a...)
}

// Error prints an error message
func Error(format string, a ...any) {
	pterm.Error.Printfln(format, a...)
}

// Info prints an info message
func Info(format string, a ...any) {
	pterm.Info.Printfln(format, a...)
}

// Warning prints a warning message
func Warning(format string, a ...any) {
	pterm.Warning.Printfln(format, a...)
}

// Table renders rows with the first row as header
func Table(rows [][]string) (string, error) {
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
}

// FormatError formats an error with context and optional suggestions
func FormatError(err error, context string, suggestions ...string) string {
	result := pterm.Error.Sprint("Failed: "+context) + "\n\n"
	result += pterm.DefaultBox.Sprint(fmt.Sprintf("Error: %v", err)) + "\n"

	if len(suggestions) > 0 {
		result += "\n" + pterm.Info.Sprint("Suggestions:") + "\n"
		for _, suggestion := range suggestions {
			result += fmt.Sprintf("  • %s\n", suggestion)
		}
	}
	return result
}
