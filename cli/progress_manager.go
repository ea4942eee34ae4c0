package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type progressSpinner interface {
	Stop() error
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(w io.Writer, text string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(w io.Writer, text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithWriter(w).
		WithRemoveWhenDone(false).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// StepStatus represents the state of a progress step.
type StepStatus int

const (
	// StepPending indicates a step has not yet started.
	StepPending StepStatus = iota
	// StepRunning indicates a step is currently in progress.
	StepRunning
	// StepCompleted indicates a step finished successfully.
	StepCompleted
	// StepFailed indicates a step encountered an error.
	StepFailed
)

// Step represents a single progress step.
type Step struct {
	ID           string
	Message      string
	Status       StepStatus
	CompletedMsg string // Optional: Custom message when completed
	IndentLevel  int    // 0 = header, 1 = child (→)
	startTime    time.Time
}

// ProgressManager shows a sequence of steps, one spinner at a time.
type ProgressManager struct {
	w              io.Writer
	steps          []*Step
	stepMap        map[string]*Step
	current        *Step
	currentSpinner progressSpinner
	spinnerFactory progressSpinnerFactory
	mu             sync.Mutex
	disabled       bool
}

// ProgressManagerOption allows customizing ProgressManager behavior at creation time.
type ProgressManagerOption func(*ProgressManager)

// WithProgressOutput enables or disables terminal output for a ProgressManager.
func WithProgressOutput(enabled bool) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.disabled = !enabled
	}
}

func withProgressSpinnerFactory(factory progressSpinnerFactory) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.spinnerFactory = factory
	}
}

// NewProgressManager creates a ProgressManager writing to w with all steps registered upfront.
func NewProgressManager(w io.Writer, steps []*Step, opts ...ProgressManagerOption) *ProgressManager {
	pterm.Success.Prefix = pterm.Prefix{
		Text:  "✓",
		Style: pterm.NewStyle(pterm.FgGreen),
	}
	pterm.Error.Prefix = pterm.Prefix{
		Text:  "✗",
		Style: pterm.NewStyle(pterm.FgRed),
	}
	baseSequence := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	spinnerSequence := make([]string, len(baseSequence))
	for i, char := range baseSequence {
		spinnerSequence[i] = " " + char
	}
	pterm.DefaultSpinner.Sequence = spinnerSequence
	pterm.DefaultSpinner.Style = pterm.NewStyle(pterm.FgCyan)

	stepMap := make(map[string]*Step, len(steps))
	for _, step := range steps {
		stepMap[step.ID] = step
	}

	pm := &ProgressManager{
		w:              w,
		steps:          steps,
		stepMap:        stepMap,
		spinnerFactory: defaultSpinnerFactory,
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// getPrefix returns the formatted prefix for a step based on its indent level.
func getPrefix(step *Step) string {
	if step.IndentLevel == 0 {
		return ""
	}
	return strings.Repeat("  ", step.IndentLevel) + "→ "
}

func (pm *ProgressManager) lookup(stepID string) (*Step, error) {
	step, ok := pm.stepMap[stepID]
	if !ok {
		return nil, fmt.Errorf("step %q not found", stepID)
	}
	return step, nil
}

// Start begins animating the spinner for the given step ID.
func (pm *ProgressManager) Start(stepID string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.lookup(stepID)
	if err != nil {
		return err
	}
	step.Status = StepRunning
	step.startTime = time.Now()

	if step.IndentLevel == 0 {
		if !pm.disabled {
			printf(pm.w, " …  %s", step.Message)
		}
		return nil
	}
	pm.current = step
	if pm.disabled {
		return nil
	}
	if pm.currentSpinner != nil {
		_ = pm.currentSpinner.Stop() //nolint:errcheck
	}
	// pterm adds a space after the spinner character; the extra one lines it up with the
	// completed format.
	spinner, err := pm.spinnerFactory(pm.w, "  "+getPrefix(step)+step.Message)
	if err != nil {
		return fmt.Errorf("failed to start spinner: %w", err)
	}
	pm.currentSpinner = spinner
	return nil
}

// Complete marks a step as completed with its completion message.
func (pm *ProgressManager) Complete(stepID string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.lookup(stepID)
	if err != nil {
		return err
	}
	msg := step.CompletedMsg
	if msg == "" {
		msg = step.Message
	}
	pm.succeedLocked(step, msg)
	return nil
}

// CompleteWithMessage marks a step as completed with a custom message.
func (pm *ProgressManager) CompleteWithMessage(stepID, message string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.lookup(stepID)
	if err != nil {
		return err
	}
	pm.succeedLocked(step, message)
	return nil
}

func (pm *ProgressManager) succeedLocked(step *Step, msg string) {
	step.Status = StepCompleted
	if pm.current == step {
		pm.current = nil
	}
	if pm.disabled {
		return
	}
	elapsed := ""
	if !step.startTime.IsZero() {
		elapsed = fmt.Sprintf(" (%s)", time.Since(step.startTime).Round(time.Second))
	}
	line := msg + elapsed
	if step.IndentLevel > 0 {
		line = " " + getPrefix(step) + line
	}
	if pm.currentSpinner != nil {
		pm.currentSpinner.Success(line)
		pm.currentSpinner = nil
		return
	}
	pterm.Success.WithWriter(pm.w).Println(line)
}

// Fail marks the running step as failed. It does nothing when no step is running.
func (pm *ProgressManager) Fail(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step := pm.current
	if step == nil {
		return
	}
	step.Status = StepFailed
	pm.current = nil
	if pm.disabled {
		return
	}
	line := " " + getPrefix(step) + fmt.Sprintf("%s: %v", step.Message, err)
	if pm.currentSpinner != nil {
		pm.currentSpinner.Fail(line)
		pm.currentSpinner = nil
		return
	}
	pterm.Error.WithWriter(pm.w).Println(line)
}

// UpdateText updates the text of the active spinner.
func (pm *ProgressManager) UpdateText(text string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.disabled || pm.currentSpinner == nil || pm.current == nil {
		return
	}
	pm.currentSpinner.UpdateText("  " + getPrefix(pm.current) + text)
}

// Stop stops any active spinner.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.currentSpinner != nil {
		_ = pm.currentSpinner.Stop() //nolint:errcheck
		pm.currentSpinner = nil
	}
}
