package site

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/extract"
	"github.com/maltedev/marketplace-scraper/internal/interaction"
)

// ErrUnknownSite is returned for a site name with no registered profile.
var ErrUnknownSite = errors.New("unknown site")

const (
	Ebay   = "ebay"
	Amazon = "amazon"
)

// Profile is everything the scraper needs to know about one marketplace.
type Profile struct {
	Name  string
	Rules *extract.Rules
	// Steps run after navigation and before extraction.
	Steps []interaction.Step
	// Location is stamped on records when the steps set a delivery location.
	Location string
	// Settle is waited after navigation and after each state changing step.
	Settle             time.Duration
	NavigationTimeout  time.Duration
	NavigationAttempts int
	// Concurrency of 1 or less runs the batch sequentially.
	Concurrency  int
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
}

// Options tunes the built-in profiles.
type Options struct {
	Settle             time.Duration
	NavigationTimeout  time.Duration
	NavigationAttempts int
	StepTimeout        time.Duration
	EbayConcurrency    int
	AmazonConcurrency  int
	AmazonZipCode      string
	ItemDelayMin       time.Duration
	ItemDelayMax       time.Duration
}

func DefaultOptions() Options {
	return Options{
		Settle:             3 * time.Second,
		NavigationTimeout:  60 * time.Second,
		NavigationAttempts: 1,
		StepTimeout:        5 * time.Second,
		EbayConcurrency:    1,
		AmazonConcurrency:  3,
		AmazonZipCode:      "10001",
	}
}

func EbayProfile(opts Options) *Profile {
	return &Profile{
		Name:               Ebay,
		Rules:              extract.Ebay(),
		Settle:             opts.Settle,
		NavigationTimeout:  opts.NavigationTimeout,
		NavigationAttempts: opts.NavigationAttempts,
		Concurrency:        opts.EbayConcurrency,
		ItemDelayMin:       opts.ItemDelayMin,
		ItemDelayMax:       opts.ItemDelayMax,
	}
}

func AmazonProfile(opts Options) *Profile {
	p := &Profile{
		Name:               Amazon,
		Rules:              extract.Amazon(),
		Settle:             opts.Settle,
		NavigationTimeout:  opts.NavigationTimeout,
		NavigationAttempts: opts.NavigationAttempts,
		Concurrency:        opts.AmazonConcurrency,
		ItemDelayMin:       opts.ItemDelayMin,
		ItemDelayMax:       opts.ItemDelayMax,
	}

	p.Steps = append(p.Steps, InterstitialStep(opts.StepTimeout))
	if opts.AmazonZipCode != "" {
		p.Location = opts.AmazonZipCode
		p.Steps = append(p.Steps, LocationSteps(opts.AmazonZipCode, opts.StepTimeout)...)
	}

	return p
}

// InterstitialStep dismisses the "continue shopping" prompt Amazon sometimes
// shows before the product page.
func InterstitialStep(timeout time.Duration) interaction.Step {
	return interaction.Step{
		Name: "dismiss interstitial",
		Locators: []string{
			`button:has-text("Continue shopping")`,
			`a:has-text("Continue shopping")`,
			`input[type="submit"][value*="Continue shopping"]`,
		},
		Action:  interaction.ActionClick,
		Timeout: timeout,
	}
}

// LocationSteps sets the delivery zip code through the location picker.
func LocationSteps(zip string, timeout time.Duration) []interaction.Step {
	return []interaction.Step{
		{
			Name:     "open location picker",
			Locators: []string{"#nav-global-location-popover-link", "#glow-ingress-block"},
			Action:   interaction.ActionClick,
			Required: true,
			Timeout:  timeout,
		},
		{
			Name:     "wait for zip input",
			Locators: []string{"#GLUXZipUpdateInput"},
			Action:   interaction.ActionWait,
			Required: true,
			Timeout:  timeout,
		},
		{
			Name:     "fill zip",
			Locators: []string{"#GLUXZipUpdateInput"},
			Action:   interaction.ActionFill,
			Value:    zip,
			Required: true,
			Timeout:  timeout,
		},
		{
			Name:     "submit zip",
			Locators: []string{`#GLUXZipUpdate input[type="submit"]`, "#GLUXZipUpdate"},
			Action:   interaction.ActionClick,
			Required: true,
			Timeout:  timeout,
		},
		{
			// confirm, then done, then any close control; the modal may
			// already be gone
			Name: "dismiss location dialog",
			Locators: []string{
				"#GLUXConfirmClose",
				`button[name="glowDoneButton"]`,
				"button.a-button-close",
				`[data-action="a-popover-close"]`,
			},
			Action:  interaction.ActionClick,
			Timeout: timeout,
		},
	}
}

// Registry maps site names to profiles.
type Registry struct {
	profiles map[string]*Profile
}

func NewRegistry(profiles ...*Profile) *Registry {
	r := &Registry{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Name] = p
	}
	return r
}

// DefaultRegistry holds the eBay and Amazon profiles.
func DefaultRegistry(opts Options) *Registry {
	return NewRegistry(EbayProfile(opts), AmazonProfile(opts))
}

func (r *Registry) Lookup(name string) (*Profile, error) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
