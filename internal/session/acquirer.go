package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrNoCookiesExported indicates the browser context held zero cookies after
// the challenge flow, which counts as a failed acquisition.
var ErrNoCookiesExported = errors.New("browser exported zero cookies")

// Page titles the site's interstitial/challenge page is known to use.
var interstitialTitles = []string{
	"阿尔贝·加缪",
	"约翰·洛克",
	"Just a moment",
}

// Consent-gate controls tried in order; absence of all of them is not an
// error since some sessions skip the gate entirely.
var consentXPaths = []string{
	`//button[contains(., '同意')]`,
	`//button[contains(., '进入')]`,
	`//button[contains(., '18+')]`,
	`//a[contains(., '同意')]`,
	`//a[contains(., '进入')]`,
}

const (
	consentTimeout  = 5 * time.Second
	settleWait      = 3 * time.Second
	postConsentWait = 5 * time.Second
)

// Config controls the browser-driven acquisition flow.
type Config struct {
	TargetURL string
	// Proxy is passed to the browser process verbatim, except that
	// ContainerHostAlias is substituted with ContainerHostAddr when
	// running inside a container, where the alias does not resolve.
	Proxy              string
	ContainerHostAlias string
	ContainerHostAddr  string

	NavTimeout            time.Duration
	InterstitialWait      time.Duration
	InterstitialLongWait  time.Duration
	// Confirm blocks before closing a non-headless browser so an operator
	// can finish a manual challenge. Nil skips the wait.
	Confirm func()
}

// Acquirer drives a real browser through the site's interstitial and consent
// gate, then exports the resulting cookies to the Store.
type Acquirer struct {
	cfg    Config
	store  *Store
	logger *zap.Logger
}

// NewAcquirer builds an Acquirer writing to store.
func NewAcquirer(cfg Config, store *Store, logger *zap.Logger) (*Acquirer, error) {
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("target url is required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.InterstitialWait <= 0 {
		cfg.InterstitialWait = 10 * time.Second
	}
	if cfg.InterstitialLongWait <= 0 {
		cfg.InterstitialLongWait = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{cfg: cfg, store: store, logger: logger}, nil
}

// Acquire runs the challenge flow and replaces the stored session wholesale.
// Headless mode is forced when running inside a container.
func (a *Acquirer) Acquire(ctx context.Context, headless bool) ([]Cookie, error) {
	if inContainer() {
		headless = true
	}
	proxy := a.resolveProxy()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
	)
	if proxy != "" {
		opts = append(opts,
			chromedp.ProxyServer(proxy),
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	navCtx, navCancel := context.WithTimeout(browserCtx, a.cfg.NavTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(a.cfg.TargetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleWait),
	); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", a.cfg.TargetURL, err)
	}

	if err := a.waitInterstitial(browserCtx); err != nil {
		return nil, err
	}
	a.clickConsent(browserCtx)

	if err := chromedp.Run(browserCtx, chromedp.Sleep(postConsentWait)); err != nil {
		return nil, fmt.Errorf("post-consent wait: %w", err)
	}

	cookies, err := exportCookies(browserCtx)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, ErrNoCookiesExported
	}

	if err := a.store.Replace(cookies); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	a.logger.Info("session acquired",
		zap.Int("cookies", len(cookies)),
		zap.Bool("headless", headless),
	)

	if !headless && a.cfg.Confirm != nil {
		a.cfg.Confirm()
	}
	return cookies, nil
}

// waitInterstitial waits the challenge out: a short wait first, then a longer
// one if the interstitial title persists.
func (a *Acquirer) waitInterstitial(ctx context.Context) error {
	title, err := pageTitle(ctx)
	if err != nil {
		return err
	}
	if !isInterstitialTitle(title) {
		return nil
	}
	a.logger.Info("interstitial detected, waiting", zap.String("title", title))
	for _, wait := range []time.Duration{a.cfg.InterstitialWait, a.cfg.InterstitialLongWait} {
		if err := chromedp.Run(ctx, chromedp.Sleep(wait)); err != nil {
			return fmt.Errorf("interstitial wait: %w", err)
		}
		if title, err = pageTitle(ctx); err != nil {
			return err
		}
		if !isInterstitialTitle(title) {
			return nil
		}
	}
	a.logger.Warn("interstitial still present after waits", zap.String("title", title))
	return nil
}

// clickConsent clicks the first consent control that appears within the
// per-selector timeout. No match is not an error.
func (a *Acquirer) clickConsent(ctx context.Context) {
	for _, xpath := range consentXPaths {
		clickCtx, cancel := context.WithTimeout(ctx, consentTimeout)
		err := chromedp.Run(clickCtx, chromedp.Click(xpath, chromedp.BySearch))
		cancel()
		if err == nil {
			a.logger.Info("consent control clicked", zap.String("selector", xpath))
			return
		}
	}
}

func pageTitle(ctx context.Context) (string, error) {
	var title string
	if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read page title: %w", err)
	}
	return title, nil
}

func isInterstitialTitle(title string) bool {
	for _, marker := range interstitialTitles {
		if strings.Contains(title, marker) {
			return true
		}
	}
	return false
}

func exportCookies(ctx context.Context) ([]Cookie, error) {
	var exported []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		exported, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(exported))
	for _, c := range exported {
		cookies = append(cookies, Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return cookies, nil
}

// resolveProxy substitutes the container-internal host alias with a reachable
// address when running inside a container.
func (a *Acquirer) resolveProxy() string {
	proxy := a.cfg.Proxy
	if proxy == "" {
		return ""
	}
	if inContainer() && a.cfg.ContainerHostAlias != "" && a.cfg.ContainerHostAddr != "" &&
		strings.Contains(proxy, a.cfg.ContainerHostAlias) {
		rewritten := strings.ReplaceAll(proxy, a.cfg.ContainerHostAlias, a.cfg.ContainerHostAddr)
		a.logger.Info("proxy host alias rewritten",
			zap.String("from", proxy),
			zap.String("to", rewritten),
		)
		return rewritten
	}
	return proxy
}

func inContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}
