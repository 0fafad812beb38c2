package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DiceSentinel/internal/model"
)

var (
	// ErrCancelled is returned by a runner that stopped early because its
	// token was cancelled.
	ErrCancelled = errors.New("session cancelled")
	// ErrNotLoggedIn means the rewards page did not show a logged-in user.
	ErrNotLoggedIn = errors.New("not logged in, check account cookies")
	// ErrNoResult means the dice result could not be read from the page.
	ErrNoResult = errors.New("dice result not found")
)

// Runner executes one scripted dice session for an account.
//
// ctx is the hard deadline of the run: when it is cancelled the runner is
// being torn down forcibly and its result will be discarded. tok is the
// cooperative stop flag; runners check it at their suspension points and
// return ErrCancelled after releasing their own resources.
type Runner interface {
	Execute(ctx context.Context, tok *Token, account string, cred model.Credential) (model.ResultRecord, error)
	Name() string
}

// Selectors are the CSS selectors used to read the rewards page.
type Selectors struct {
	UserEmail   string `yaml:"user_email"`
	StartButton string `yaml:"start_button"`
	DiceResult  string `yaml:"dice_result"`
	Credits     string `yaml:"credits"`
}

// DefaultSelectors match the rewards portal markup.
var DefaultSelectors = Selectors{
	UserEmail:   "p.gGRRlH.WrOCw.AEdnq.hGQgmY.jdmPpC",
	StartButton: ".game-dice-start-button",
	DiceResult:  ".game-dice-result",
	Credits:     ".earned-credits-balance-number",
}

// DefaultRewardsURL is the page hosting the dice game.
const DefaultRewardsURL = "https://www.magicnewton.com/portal/rewards"

// Options configures the concrete runners.
type Options struct {
	RewardsURL  string
	Selectors   Selectors
	StepTimeout time.Duration
	SettleDelay time.Duration
	Headless    bool
	BrowserBin  string
	Proxy       string
}

func (o Options) withDefaults() Options {
	if o.RewardsURL == "" {
		o.RewardsURL = DefaultRewardsURL
	}
	if o.Selectors.UserEmail == "" {
		o.Selectors.UserEmail = DefaultSelectors.UserEmail
	}
	if o.Selectors.StartButton == "" {
		o.Selectors.StartButton = DefaultSelectors.StartButton
	}
	if o.Selectors.DiceResult == "" {
		o.Selectors.DiceResult = DefaultSelectors.DiceResult
	}
	if o.Selectors.Credits == "" {
		o.Selectors.Credits = DefaultSelectors.Credits
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 10 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	return o
}

// New builds the runner for the named driver: "browser", "http" or "mock".
func New(driver string, opts Options) (Runner, error) {
	switch driver {
	case "", "browser":
		return NewBrowserRunner(opts), nil
	case "http":
		return NewHTTPRunner(opts), nil
	case "mock":
		return &MockRunner{Result: model.ResultRecord{Wins: 1, Profit: 50}, Delay: time.Second}, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", driver)
	}
}

// cancelled maps an error observed after the token fired to ErrCancelled.
func cancelled(tok *Token, err error) error {
	if err == nil {
		return nil
	}
	if tok.Cancelled() && !errors.Is(err, ErrCancelled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}
