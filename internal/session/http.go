package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"DiceSentinel/internal/model"
)

// HTTPRunner reads the latest dice outcome from the server-rendered
// rewards page without a browser. It cannot click, so it only reports
// what the page already shows.
type HTTPRunner struct {
	opts   Options
	Client *http.Client
}

// NewHTTPRunner creates an HTTP runner with optional proxy support.
func NewHTTPRunner(opts Options) *HTTPRunner {
	opts = opts.withDefaults()
	transport := &http.Transport{}
	if opts.Proxy != "" {
		if u, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPRunner{
		opts: opts,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (r *HTTPRunner) Name() string { return "http" }

func (r *HTTPRunner) Execute(ctx context.Context, tok *Token, account string, cred model.Credential) (model.ResultRecord, error) {
	runCtx, cancel := tok.Bind(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, r.opts.RewardsURL, nil)
	if err != nil {
		return model.ResultRecord{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	if h := cred.Header(); h != "" {
		req.Header.Set("Cookie", h)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return model.ResultRecord{}, cancelled(tok, fmt.Errorf("fetch rewards page: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.ResultRecord{}, fmt.Errorf("fetch rewards page: status %d, body: %s", resp.StatusCode, string(body))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return model.ResultRecord{}, cancelled(tok, fmt.Errorf("parse rewards page: %w", err))
	}
	if tok.Cancelled() {
		return model.ResultRecord{}, ErrCancelled
	}
	return scrape(doc, r.opts.Selectors, account)
}

// scrape reads the dice outcome and credits from a parsed rewards page.
func scrape(doc *goquery.Document, sel Selectors, account string) (model.ResultRecord, error) {
	email := strings.TrimSpace(doc.Find(sel.UserEmail).First().Text())
	if email == "" {
		return model.ResultRecord{}, ErrNotLoggedIn
	}
	log.Printf("[INFO] session %s: logged in as %s", account, email)

	result := doc.Find(sel.DiceResult).First()
	if result.Length() == 0 {
		return model.ResultRecord{}, ErrNoResult
	}
	res := ParseDiceOutcome(result.Text())

	credits := doc.Find(sel.Credits).First()
	if credits.Length() == 0 {
		log.Printf("[WARN] session %s: credits balance not on page", account)
		return res, nil
	}
	if n, err := ParseCredits(credits.Text()); err != nil {
		log.Printf("[WARN] session %s: %v, profit left at 0", account, err)
	} else {
		res.Profit = n
	}
	return res, nil
}
