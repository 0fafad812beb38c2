package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"DiceSentinel/internal/model"
)

// BrowserRunner plays the dice game in a headless Chrome driven by rod.
type BrowserRunner struct {
	opts Options
}

// NewBrowserRunner creates a browser runner.
func NewBrowserRunner(opts Options) *BrowserRunner {
	return &BrowserRunner{opts: opts.withDefaults()}
}

func (r *BrowserRunner) Name() string { return "browser" }

// Execute launches a fresh browser, loads the account cookies, rolls the
// dice once and reads the outcome and credits balance.
func (r *BrowserRunner) Execute(ctx context.Context, tok *Token, account string, cred model.Credential) (model.ResultRecord, error) {
	var res model.ResultRecord
	log.Printf("[INFO] session %s: launching browser", account)

	runCtx, cancel := tok.Bind(ctx)
	defer cancel()

	l := launcher.New().Context(runCtx).Headless(r.opts.Headless)
	if r.opts.BrowserBin != "" {
		l = l.Bin(r.opts.BrowserBin)
	}
	if r.opts.Proxy != "" {
		l = l.Proxy(r.opts.Proxy)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return res, cancelled(tok, fmt.Errorf("launch browser: %w", err))
	}
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(runCtx)
	if err := browser.Connect(); err != nil {
		return res, cancelled(tok, fmt.Errorf("connect to browser: %w", err))
	}
	defer func() {
		if err := browser.Context(context.Background()).Close(); err != nil {
			log.Printf("[WARN] session %s: close browser: %v", account, err)
		}
	}()

	incognito, err := browser.Incognito()
	if err != nil {
		return res, cancelled(tok, fmt.Errorf("incognito context: %w", err))
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return res, cancelled(tok, fmt.Errorf("create page: %w", err))
	}
	if len(cred) > 0 {
		if err := page.SetCookies(r.cookieParams(cred)); err != nil {
			return res, cancelled(tok, fmt.Errorf("set cookies: %w", err))
		}
	}

	navCtx, navCancel := context.WithTimeout(runCtx, 3*r.opts.StepTimeout)
	err = page.Context(navCtx).Navigate(r.opts.RewardsURL)
	if err == nil {
		err = page.Context(navCtx).WaitLoad()
	}
	navCancel()
	if err != nil {
		return res, cancelled(tok, fmt.Errorf("open rewards page: %w", err))
	}

	email, err := r.text(runCtx, page, r.opts.Selectors.UserEmail)
	if err != nil {
		if tok.Cancelled() {
			return res, cancelled(tok, err)
		}
		return res, fmt.Errorf("%w: %v", ErrNotLoggedIn, err)
	}
	if strings.TrimSpace(email) == "" {
		return res, ErrNotLoggedIn
	}
	log.Printf("[INFO] session %s: logged in as %s", account, strings.TrimSpace(email))

	if tok.Cancelled() {
		return res, ErrCancelled
	}
	if err := r.click(runCtx, page, r.opts.Selectors.StartButton); err != nil {
		return res, cancelled(tok, fmt.Errorf("start dice game: %w", err))
	}
	if err := tok.Sleep(runCtx, r.opts.SettleDelay); err != nil {
		return res, cancelled(tok, err)
	}

	resultText, err := r.text(runCtx, page, r.opts.Selectors.DiceResult)
	if err != nil {
		return res, cancelled(tok, fmt.Errorf("%w: %v", ErrNoResult, err))
	}
	log.Printf("[INFO] session %s: dice result %q", account, resultText)
	res = ParseDiceOutcome(resultText)

	creditsText, err := r.text(runCtx, page, r.opts.Selectors.Credits)
	if err != nil {
		if tok.Cancelled() {
			return res, cancelled(tok, err)
		}
		log.Printf("[WARN] session %s: credits balance unavailable: %v", account, err)
		return res, nil
	}
	if credits, err := ParseCredits(creditsText); err != nil {
		log.Printf("[WARN] session %s: %v, profit left at 0", account, err)
	} else {
		res.Profit = credits
	}

	log.Printf("[INFO] session %s: finished wins=%d losses=%d profit=%d", account, res.Wins, res.Losses, res.Profit)
	return res, nil
}

// text waits up to the step timeout for selector and returns its text.
func (r *BrowserRunner) text(ctx context.Context, page *rod.Page, selector string) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	el, err := page.Context(stepCtx).Element(selector)
	if err != nil {
		return "", fmt.Errorf("wait for %q: %w", selector, err)
	}
	return el.Text()
}

func (r *BrowserRunner) click(ctx context.Context, page *rod.Page, selector string) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	el, err := page.Context(stepCtx).Element(selector)
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (r *BrowserRunner) cookieParams(cred model.Credential) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cred))
	for _, c := range cred {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Domain == "" {
			p.URL = r.opts.RewardsURL
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}
