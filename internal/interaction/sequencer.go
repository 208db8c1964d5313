package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/browser"
)

// ErrRequiredStep marks an item whose mandatory interaction step did not
// complete.
var ErrRequiredStep = errors.New("required step failed")

const DefaultStepTimeout = 5 * time.Second

type Action string

const (
	ActionWait  Action = "wait"
	ActionClick Action = "click"
	ActionFill  Action = "fill"
	ActionPress Action = "press"
)

// Step is one UI action. Locators are alternatives tried in order; the first
// one to become visible is acted on.
type Step struct {
	Name     string
	Locators []string
	Action   Action
	// Value is the text for fill or the key for press.
	Value    string
	Required bool
	Timeout  time.Duration
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

type StepResult struct {
	Step      string
	Attempted bool
	Status    Status
	// Locator is the alternative that matched, if any.
	Locator string
	Err     error
}

// RequiredStepError reports which mandatory step aborted the sequence.
type RequiredStepError struct {
	Step string
	Err  error
}

func (e *RequiredStepError) Error() string {
	return fmt.Sprintf("%s: step %q: %v", ErrRequiredStep, e.Step, e.Err)
}

func (e *RequiredStepError) Unwrap() []error {
	return []error{ErrRequiredStep, e.Err}
}

// Sequencer runs interaction steps in order against a single page.
type Sequencer struct {
	settle time.Duration
	logger *slog.Logger
}

// NewSequencer returns a Sequencer that waits settle after every state
// changing action.
func NewSequencer(settle time.Duration, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		settle: settle,
		logger: logger.With("component", "interaction"),
	}
}

// Run executes steps strictly in order. Optional steps whose locators never
// appear are skipped; a failing required step aborts the remaining steps and
// returns a *RequiredStepError. Results cover every step that was reached.
func (s *Sequencer) Run(ctx context.Context, page browser.Page, steps []Step) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := s.runStep(ctx, page, step)
		results = append(results, result)

		switch result.Status {
		case StatusSkipped:
			s.logger.Debug("optional step not present", "step", step.Name)
		case StatusFailed:
			if step.Required {
				return results, &RequiredStepError{Step: step.Name, Err: result.Err}
			}
			s.logger.Info("optional step failed", "step", step.Name, "error", result.Err)
		}
	}

	return results, nil
}

func (s *Sequencer) runStep(ctx context.Context, page browser.Page, step Step) StepResult {
	result := StepResult{Step: step.Name}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	locator, err := s.locate(page, step.Locators, timeout)
	if err != nil {
		if !step.Required && errors.Is(err, browser.ErrElementNotFound) {
			result.Status = StatusSkipped
			return result
		}
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	result.Attempted = true
	result.Locator = locator

	switch step.Action {
	case ActionWait, "":
	case ActionClick:
		err = page.Click(locator, timeout)
	case ActionFill:
		err = page.Fill(locator, step.Value, timeout)
	case ActionPress:
		err = page.Press(locator, step.Value, timeout)
	default:
		err = fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	if step.Action != ActionWait && step.Action != "" {
		if err := Sleep(ctx, s.settle); err != nil {
			result.Status = StatusFailed
			result.Err = err
			return result
		}
	}

	result.Status = StatusSucceeded
	return result
}

// locate returns the first locator that becomes visible. Each alternative
// gets the full step timeout.
func (s *Sequencer) locate(page browser.Page, locators []string, timeout time.Duration) (string, error) {
	if len(locators) == 0 {
		return "", fmt.Errorf("no locators: %w", browser.ErrElementNotFound)
	}

	var errs []error
	for _, locator := range locators {
		err := page.WaitVisible(locator, timeout)
		if err == nil {
			return locator, nil
		}
		if !errors.Is(err, browser.ErrElementNotFound) {
			return "", err
		}
		errs = append(errs, err)
	}

	return "", errors.Join(errs...)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
