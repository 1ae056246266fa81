package browser

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
)

const selectScript = `(el, i) => {
	if (i < 0 || i >= el.options.length) {
		throw new Error('option index out of range');
	}
	el.selectedIndex = i;
	el.value = el.options[i].value;
	for (const type of ['change', 'input', 'blur']) {
		el.dispatchEvent(new Event(type, { bubbles: true }));
	}
	return el.options[i].text;
}`

// LaunchArgs returns the Chromium flags for the configured profile
func LaunchArgs(cfg config.BrowserConfig) []string {
	return []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-software-rasterizer",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-features=TranslateUI",
		"--disable-extensions",
		"--disable-default-apps",
		"--disable-web-security",
		"--allow-running-insecure-content",
		fmt.Sprintf("--window-size=%d,%d", cfg.WindowWidth, cfg.WindowHeight),
	}
}

// PlaywrightLauncher starts Chromium through Playwright
type PlaywrightLauncher struct {
	cfg    config.BrowserConfig
	goos   string
	stat   StatFunc
	logger *zap.Logger
}

// NewPlaywrightLauncher creates a launcher for the host platform
func NewPlaywrightLauncher(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{
		cfg:    cfg,
		goos:   runtime.GOOS,
		logger: logger,
	}
}

// Launch starts a browser process with one tab
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Handle, error) {
	binary, err := ResolveBinary(l.goos, l.cfg.BinaryPath, l.cfg.RequireSystemBinary, l.stat)
	if err != nil {
		return nil, err
	}
	if binary != "" {
		l.logger.Info("using system browser", zap.String("binary", binary))
	} else {
		l.logger.Info("using bundled browser")
	}

	runOpts := &playwright.RunOptions{
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
		SkipInstallBrowsers: binary != "",
	}

	if l.cfg.InstallDriver {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("installing playwright: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless:        playwright.Bool(l.cfg.Headless),
		Args:            LaunchArgs(l.cfg),
		ChromiumSandbox: playwright.Bool(false),
	}
	if binary != "" {
		launchOpts.ExecutablePath = playwright.String(binary)
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  l.cfg.WindowWidth,
			Height: l.cfg.WindowHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("creating context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("creating page: %w", err)
	}

	page.SetDefaultTimeout(millis(l.cfg.DefaultTimeout))
	page.SetDefaultNavigationTimeout(millis(l.cfg.NavigationTimeout))

	return &playwrightHandle{
		pw:      pw,
		browser: browser,
		context: browserCtx,
		page:    &playwrightPage{page: page},
	}, nil
}

type playwrightHandle struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    *playwrightPage
}

func (h *playwrightHandle) Page() Page {
	return h.page
}

func (h *playwrightHandle) Close() error {
	_ = h.page.page.Close()
	_ = h.context.Close()
	_ = h.browser.Close()
	return h.pw.Stop()
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(millis(timeout)),
	})
	if err != nil {
		return domain.ErrNavigationFailed(url, err)
	}
	return nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) AttributeValues(selector, attr string) ([]string, error) {
	elements, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", selector, err)
	}

	values := make([]string, 0, len(elements))
	for _, el := range elements {
		v, err := el.GetAttribute(attr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", attr, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func (p *playwrightPage) waitFor(id string, timeout time.Duration) (playwright.Locator, error) {
	loc := p.page.Locator(byID(id))
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(millis(timeout)),
	})
	if err != nil {
		return nil, domain.ErrFieldNotFound(id, err)
	}
	return loc, nil
}

func (p *playwrightPage) FillText(id, value string, timeout time.Duration) error {
	loc, err := p.waitFor(id, timeout)
	if err != nil {
		return err
	}
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		return fmt.Errorf("scrolling to %s: %w", id, err)
	}
	if err := loc.Clear(); err != nil {
		return fmt.Errorf("clearing %s: %w", id, err)
	}
	if err := loc.Fill(value); err != nil {
		return fmt.Errorf("filling %s: %w", id, err)
	}
	return nil
}

func (p *playwrightPage) OptionLabels(id string, timeout time.Duration) ([]string, error) {
	loc, err := p.waitFor(id, timeout)
	if err != nil {
		return nil, err
	}
	texts, err := loc.Locator("option").AllTextContents()
	if err != nil {
		return nil, fmt.Errorf("reading options of %s: %w", id, err)
	}
	for i := range texts {
		texts[i] = strings.TrimSpace(texts[i])
	}
	return texts, nil
}

func (p *playwrightPage) SelectIndex(id string, index int) (string, error) {
	res, err := p.page.Locator(byID(id)).Evaluate(selectScript, index)
	if err != nil {
		return "", domain.ErrSelectFailed(id, err)
	}
	label, _ := res.(string)
	return strings.TrimSpace(label), nil
}

func byID(id string) string {
	return fmt.Sprintf("[id='%s']", id)
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
