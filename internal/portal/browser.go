package portal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/config"
	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/resilience"
)

const (
	clickSettle  = 500 * time.Millisecond
	pollInterval = 250 * time.Millisecond
)

type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// Browser drives the declaration form in Chrome through chromedp. One
// Browser owns one tab for the whole batch.
type Browser struct {
	cfg   config.PortalConfig
	sel   Selectors
	pacer *Pacer
	log   *zap.Logger

	tab    context.Context
	cancel context.CancelFunc

	run  runFunc
	html func(ctx context.Context) (string, error)
}

// NewBrowser starts Chrome with the configured profile and opens a tab.
// The browser lives until Close, independent of ctx.
func NewBrowser(ctx context.Context, cfg config.PortalConfig) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.NoSandbox,
	)
	if cfg.ProfileDir != "" {
		dir, err := filepath.Abs(cfg.ProfileDir)
		if err != nil {
			return nil, eris.Wrap(err, "browser: resolve profile dir")
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Accept "are you sure" dialogs the form raises on submit.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)) //nolint:errcheck
		}
	})

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "pt-BR,pt;q=0.9"}),
	); err != nil {
		tabCancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: start chrome")
	}

	b := newBrowser(cfg, tabCtx, func() {
		tabCancel()
		allocCancel()
	})
	return b, nil
}

func newBrowser(cfg config.PortalConfig, tab context.Context, cancel context.CancelFunc) *Browser {
	b := &Browser{
		cfg:    cfg,
		sel:    DefaultSelectors(),
		pacer:  NewPacer(cfg.ActionsPerSecond, cfg.TypingDelay),
		log:    zap.L().With(zap.String("component", "browser")),
		tab:    tab,
		cancel: cancel,
		run:    chromedp.Run,
	}
	b.html = func(ctx context.Context) (string, error) {
		var html string
		err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
		return html, err
	}
	return b
}

// Open navigates to the portal and waits for the operator to log in and
// reach the declaration form.
func (b *Browser) Open(ctx context.Context) error {
	b.log.Info("browser: waiting for login; open the declaration form in the browser window",
		zap.String("url", b.cfg.URL),
		zap.Duration("timeout", b.cfg.LoginTimeout),
	)
	tctx, cancel := b.scoped(ctx, b.cfg.LoginTimeout)
	defer cancel()
	if err := b.run(tctx,
		chromedp.Navigate(b.cfg.URL),
		chromedp.WaitVisible(b.sel.Period, chromedp.ByQuery),
	); err != nil {
		return b.actionError(ctx, "open", err)
	}
	return nil
}

// FillInitialFields types the period, establishment and beneficiary.
func (b *Browser) FillInitialFields(ctx context.Context, f InitialFields) (Result, error) {
	return b.step(ctx, "initial_fields", b.cfg.RetryAttempts, b.cfg.ActionTimeout,
		b.typeInto(b.sel.Period, f.Period),
		b.typeInto(b.sel.Establishment, group.DigitsOnly(f.EstablishmentID)),
		b.typeInto(b.sel.Beneficiary, group.DigitsOnly(f.HeadIdentityID)),
	)
}

// AdvanceToDetail presses "continue" and waits for either the detail
// section or an alert.
func (b *Browser) AdvanceToDetail(ctx context.Context) (Result, error) {
	res, err := b.step(ctx, "advance_to_detail", 0, b.cfg.ActionTimeout,
		chromedp.Click(b.sel.Continue, chromedp.ByQuery),
	)
	if err != nil || len(res.ScrapedErrors) > 0 {
		return res, err
	}

	var alerts []string
	err = b.waitFor(ctx, "advance_to_detail", b.cfg.ActionTimeout, func(html string) bool {
		alerts, _ = ExtractAlerts(html, b.sel)
		return len(alerts) > 0 || HasElement(html, b.sel.DetailMarker)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, ScrapedErrors: alerts}, nil
}

// AddDependent fills and saves the dependents modal.
func (b *Browser) AddDependent(ctx context.Context, d DependentEntry) (Result, error) {
	actions := []chromedp.Action{
		chromedp.Click(b.sel.AddDependent, chromedp.ByQuery),
		waitVisible(b.sel.DependentCPF, b.cfg.ModalTimeout),
		b.typeInto(b.sel.DependentCPF, group.DigitsOnly(d.IdentityID)),
		selectOption(b.sel.DependentRelation, d.Code, false),
	}
	if d.OtherDescription != "" {
		actions = append(actions, b.typeInto(b.sel.DependentOtherDesc, d.OtherDescription))
	}
	actions = append(actions,
		chromedp.Click(b.sel.SaveDependent, chromedp.ByQuery),
		chromedp.Sleep(clickSettle),
	)
	return b.step(ctx, "add_dependent", b.cfg.RetryAttempts, b.cfg.ActionTimeout, actions...)
}

// AddPlan fills and saves the health-plan operator modal.
func (b *Browser) AddPlan(ctx context.Context, p PlanEntry) (Result, error) {
	return b.step(ctx, "add_plan", b.cfg.RetryAttempts, b.cfg.ActionTimeout,
		chromedp.Click(b.sel.AddPlan, chromedp.ByQuery),
		waitVisible(b.sel.PlanOperator, b.cfg.ModalTimeout),
		b.typeInto(b.sel.PlanOperator, group.DigitsOnly(p.OperatorID)),
		b.typeInto(b.sel.PlanAmount, p.HeadAmount),
		chromedp.Click(b.sel.SavePlan, chromedp.ByQuery),
		chromedp.Sleep(clickSettle),
	)
}

// AddDependentValue fills and saves the per-dependent amount modal.
func (b *Browser) AddDependentValue(ctx context.Context, v DependentValueEntry) (Result, error) {
	return b.step(ctx, "add_dependent_value", b.cfg.RetryAttempts, b.cfg.ActionTimeout,
		chromedp.Click(b.sel.AddDependentValue, chromedp.ByQuery),
		waitVisible(b.sel.DependentValueCPF, b.cfg.ModalTimeout),
		selectOption(b.sel.DependentValueCPF, group.DigitsOnly(v.DependentIdentityID), true),
		b.typeInto(b.sel.DependentValueInput, v.Amount),
		chromedp.Click(b.sel.SaveDependentValue, chromedp.ByQuery),
		chromedp.Sleep(clickSettle),
	)
}

// Submit sends the declaration. It is never retried.
func (b *Browser) Submit(ctx context.Context) (Result, error) {
	return b.step(ctx, "submit", 0, b.cfg.ActionTimeout,
		chromedp.Click(b.sel.Submit, chromedp.ByQuery),
		chromedp.Sleep(clickSettle),
	)
}

// Sign confirms the signer dialog once it had time to appear. It is never
// retried.
func (b *Browser) Sign(ctx context.Context, method SignMethod) (Result, error) {
	var confirm chromedp.Action
	switch method {
	case SignClick:
		confirm = chromedp.Click(b.sel.SignButton, chromedp.ByQuery)
	default:
		confirm = chromedp.KeyEvent(kb.Enter)
	}
	return b.step(ctx, "sign", 0, b.cfg.SignerWait+b.cfg.ActionTimeout,
		chromedp.Sleep(b.cfg.SignerWait),
		confirm,
	)
}

// AwaitConfirmation polls the page for a success banner.
func (b *Browser) AwaitConfirmation(ctx context.Context, timeout time.Duration) (Result, error) {
	var alerts []string
	err := b.waitFor(ctx, "confirmation", timeout, func(html string) bool {
		alerts, _ = ExtractAlerts(html, b.sel)
		ok, _ := ExtractSuccess(html, b.sel)
		return len(ok) > 0
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{ScrapedErrors: alerts}, ErrConfirmationTimeout
	}
	return Done(), nil
}

// AdvanceToNext returns to a blank declaration form.
func (b *Browser) AdvanceToNext(ctx context.Context) (Result, error) {
	return b.step(ctx, "advance_to_next", b.cfg.RetryAttempts, b.cfg.NextGroupTimeout,
		chromedp.Navigate(b.cfg.URL),
		chromedp.WaitVisible(b.sel.Period, chromedp.ByQuery),
	)
}

// Close shuts the tab and the browser process down.
func (b *Browser) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

// step runs actions in the tab under a timeout, retrying transient
// failures, then scrapes the page for alerts.
func (b *Browser) step(ctx context.Context, name string, retries int, timeout time.Duration, actions ...chromedp.Action) (Result, error) {
	return resilience.DoVal(ctx, resilience.PageRetryConfig(name, retries), func(ctx context.Context) (Result, error) {
		if err := b.pacer.Wait(ctx); err != nil {
			return Result{}, err
		}
		tctx, cancel := b.scoped(ctx, timeout)
		defer cancel()
		if err := b.run(tctx, actions...); err != nil {
			return Result{}, b.actionError(ctx, name, err)
		}
		return b.scrape(ctx), nil
	})
}

func (b *Browser) scrape(ctx context.Context) Result {
	tctx, cancel := b.scoped(ctx, b.cfg.ActionTimeout)
	defer cancel()
	html, err := b.html(tctx)
	if err != nil {
		b.log.Debug("browser: scrape page", zap.Error(err))
		return Done()
	}
	alerts, err := ExtractAlerts(html, b.sel)
	if err != nil {
		b.log.Debug("browser: parse alerts", zap.Error(err))
		return Done()
	}
	return Result{OK: true, ScrapedErrors: alerts}
}

// waitFor polls the page until cond holds or timeout elapses.
func (b *Browser) waitFor(ctx context.Context, name string, timeout time.Duration, cond func(html string) bool) error {
	tctx, cancel := b.scoped(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		html, err := b.html(tctx)
		if err == nil && cond(html) {
			return nil
		}
		select {
		case <-tctx.Done():
			return b.actionError(ctx, name, tctx.Err())
		case <-ticker.C:
		}
	}
}

// scoped derives a context from the tab that also ends when ctx does.
func (b *Browser) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tctx, cancel := context.WithTimeout(b.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (b *Browser) actionError(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || resilience.IsTransient(err) {
		return resilience.NewTransientError(name, err, 0)
	}
	return eris.Wrapf(err, "browser: %s", name)
}

// typeInto clears a field and types text one character at a time.
func (b *Browser) typeInto(sel, text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.WaitVisible(sel, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		if err := chromedp.Clear(sel, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		for _, r := range text {
			if err := chromedp.SendKeys(sel, string(r), chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			if d := b.pacer.KeystrokeDelay(); d > 0 {
				if err := chromedp.Sleep(d).Do(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func waitVisible(sel string, timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return chromedp.WaitVisible(sel, chromedp.ByQuery).Do(ctx)
	})
}

const selectOptionJS = `(function(sel, want, digits) {
	const el = document.querySelector(sel);
	if (!el) return false;
	const norm = s => digits ? String(s).replace(/\D/g, '') : String(s).trim();
	for (const o of el.options) {
		if (norm(o.value) === want || (digits && norm(o.textContent).includes(want))) {
			el.value = o.value;
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
})(%q, %q, %t)`

// selectOption picks the option whose value equals want. With digits set,
// values and labels are compared on their digits only.
func selectOption(sel, want string, digits bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.WaitVisible(sel, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		var found bool
		if err := chromedp.Evaluate(fmt.Sprintf(selectOptionJS, sel, want, digits), &found).Do(ctx); err != nil {
			return err
		}
		if !found {
			return eris.Errorf("browser: option %q not found in %s", want, sel)
		}
		return nil
	})
}
