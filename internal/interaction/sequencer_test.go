package interaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://shop.test/item"

func newPage(t *testing.T, fx browsertest.Fixture) (browser.Page, *browsertest.Session) {
	t.Helper()
	session := browsertest.NewSession(map[string]browsertest.Fixture{pageURL: fx})
	page, err := session.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, page.Goto(pageURL, time.Second))
	return page, session
}

func newSequencer() *Sequencer {
	return NewSequencer(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func locationSteps() []Step {
	return []Step{
		{Name: "interstitial", Locators: []string{"#continue"}, Action: ActionClick},
		{Name: "open picker", Locators: []string{"#picker"}, Action: ActionClick, Required: true},
		{Name: "fill zip", Locators: []string{"#zip"}, Action: ActionFill, Value: "10001", Required: true},
		{Name: "submit", Locators: []string{"#apply"}, Action: ActionClick, Required: true},
		{Name: "dismiss", Locators: []string{"#confirm", "#done", ".close"}, Action: ActionClick},
	}
}

func TestSequencer_AllStepsPresent(t *testing.T) {
	page, session := newPage(t, browsertest.Fixture{
		Present: []string{"#continue", "#picker", "#zip", "#apply", "#confirm"},
	})

	results, err := newSequencer().Run(context.Background(), page, locationSteps())
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, StatusSucceeded, r.Status, r.Step)
		assert.True(t, r.Attempted)
	}

	actions := session.Actions()
	require.Len(t, actions, 5)
	assert.Equal(t, "fill", actions[2].Kind)
	assert.Equal(t, "10001", actions[2].Value)
	assert.Equal(t, "#confirm", actions[4].Selector)
}

func TestSequencer_OptionalStepsSkipped(t *testing.T) {
	page, _ := newPage(t, browsertest.Fixture{
		Present: []string{"#picker", "#zip", "#apply"},
	})

	results, err := newSequencer().Run(context.Background(), page, locationSteps())
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.False(t, results[0].Attempted)
	assert.Equal(t, StatusSkipped, results[4].Status)
	assert.NoError(t, results[4].Err)
}

func TestSequencer_DismissalFallsBack(t *testing.T) {
	page, _ := newPage(t, browsertest.Fixture{
		Present: []string{"#picker", "#zip", "#apply", ".close"},
	})

	results, err := newSequencer().Run(context.Background(), page, locationSteps())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, results[4].Status)
	assert.Equal(t, ".close", results[4].Locator)
}

func TestSequencer_RequiredStepAborts(t *testing.T) {
	page, session := newPage(t, browsertest.Fixture{
		Present: []string{"#picker", "#apply", "#confirm"},
	})

	results, err := newSequencer().Run(context.Background(), page, locationSteps())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredStep)
	assert.ErrorIs(t, err, browser.ErrElementNotFound)

	var stepErr *RequiredStepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "fill zip", stepErr.Step)

	// submit and dismiss never run
	require.Len(t, results, 3)
	assert.Equal(t, StatusFailed, results[2].Status)
	assert.Len(t, session.Actions(), 1)
}

func TestSequencer_ActionErrorOnOptionalStep(t *testing.T) {
	page, _ := newPage(t, browsertest.Fixture{
		Present:    []string{"#continue", "#picker", "#zip", "#apply"},
		ActionErrs: map[string]error{"#continue": errors.New("detached")},
	})

	results, err := newSequencer().Run(context.Background(), page, locationSteps())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.True(t, results[0].Attempted)
}

func TestSequencer_ActionErrorOnRequiredStep(t *testing.T) {
	page, _ := newPage(t, browsertest.Fixture{
		Present:    []string{"#picker", "#zip", "#apply"},
		ActionErrs: map[string]error{"#apply": errors.New("detached")},
	})

	_, err := newSequencer().Run(context.Background(), page, locationSteps())
	assert.ErrorIs(t, err, ErrRequiredStep)
}

func TestSequencer_ClosedPageFailsOptionalStep(t *testing.T) {
	page, _ := newPage(t, browsertest.Fixture{Present: []string{"#picker"}})
	require.NoError(t, page.Close())

	steps := []Step{{Name: "optional", Locators: []string{"#picker"}, Action: ActionClick}}
	results, err := newSequencer().Run(context.Background(), page, steps)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, browser.ErrPageClosed)
}

func TestSequencer_Cancelled(t *testing.T) {
	page, _ := newPage(t, browsertest.Fixture{Present: []string{"#picker"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newSequencer().Run(ctx, page, locationSteps())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
