package browser

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"naviguard/backend/internal/models"
	"naviguard/backend/internal/recorder"
)

// Tab is the slice of the DevTools protocol a session drives. Every method
// may be called from any goroutine except the chromedp listener itself.
type Tab interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Load starts a navigation without waiting for it.
	Load(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, res any) error
	CanGoBack(ctx context.Context) (bool, error)
	GoBack(ctx context.Context) error
	ContinueRequest(ctx context.Context, id string) error
	BlockRequest(ctx context.Context, id string) error
	ClosePopup(ctx context.Context, id string) error
	AcceptDialog(ctx context.Context, promptText string) error
	Close()
}

type tabSpec struct {
	basicAuth *models.Credential
	scripts   []string
}

// BasicAuthHeader returns the Authorization header value for cred.
func BasicAuthHeader(cred models.Credential) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred.Username+":"+cred.Password))
}

type chromeTab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	targetID  target.ID
	mainFrame cdp.FrameID
	release   func()
}

// openChromeTab opens a new tab in the browser behind parent and wires its
// events to push. push must not block.
func openChromeTab(parent context.Context, spec tabSpec, push func(any)) (*chromeTab, error) {
	ctx, cancel := chromedp.NewContext(parent)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	t := &chromeTab{ctx: ctx, cancel: cancel, targetID: chromedp.FromContext(ctx).Target.TargetID}
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		tree, err := page.GetFrameTree().Do(c)
		if err != nil {
			return err
		}
		t.mainFrame = tree.Frame.ID
		return nil
	})); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}

	chromedp.ListenTarget(ctx, t.targetListener(push))
	chromedp.ListenBrowser(ctx, t.browserListener(push))

	tasks := chromedp.Tasks{
		page.Enable(),
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{
			URLPattern:   "*",
			ResourceType: network.ResourceTypeDocument,
			RequestStage: fetch.RequestStageRequest,
		}}),
		runtime.AddBinding(recorder.BindingEmit),
		runtime.AddBinding(recorder.BindingClose),
		chromedp.ActionFunc(func(c context.Context) error {
			for _, script := range spec.scripts {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	if spec.basicAuth != nil {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Authorization": BasicAuthHeader(*spec.basicAuth),
		}))
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to instrument tab: %w", err)
	}
	return t, nil
}

func (t *chromeTab) targetListener(push func(any)) func(any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			if e.FrameID != t.mainFrame {
				go func() { _ = t.ContinueRequest(context.Background(), string(e.RequestID)) }()
				return
			}
			push(navigationRequest{id: string(e.RequestID), url: e.Request.URL})
		case *page.EventFrameStartedLoading:
			if e.FrameID == t.mainFrame {
				push(loadStarted{})
			}
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				push(addressChanged{url: e.Frame.URL})
			}
		case *page.EventNavigatedWithinDocument:
			if e.FrameID == t.mainFrame {
				push(addressChanged{url: e.URL})
			}
		case *page.EventLoadEventFired:
			push(loadFinished{})
		case *page.EventWindowOpen:
			push(popupRequest{url: e.URL})
		case *page.EventJavascriptDialogOpening:
			push(dialogOpened{kind: string(e.Type), message: e.Message, defaultPrompt: e.DefaultPrompt})
		case *runtime.EventBindingCalled:
			push(bindingCalled{name: e.Name, payload: e.Payload})
		}
	}
}

func (t *chromeTab) browserListener(push func(any)) func(any) {
	return func(ev any) {
		e, ok := ev.(*target.EventTargetCreated)
		if !ok || e.TargetInfo == nil {
			return
		}
		if e.TargetInfo.Type == "page" && e.TargetInfo.OpenerID == t.targetID {
			push(popupTarget{id: string(e.TargetInfo.TargetID)})
		}
	}
}

// run executes actions on the tab, bounded by ctx as well as the tab's life.
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *chromeTab) Load(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return cdp.Execute(c, page.CommandNavigate, page.Navigate(url), nil)
	}))
}

func (t *chromeTab) Evaluate(ctx context.Context, script string, res any) error {
	return t.run(ctx, chromedp.Evaluate(script, res))
}

func (t *chromeTab) CanGoBack(ctx context.Context) (bool, error) {
	var current int64
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		current, _, err = page.GetNavigationHistory().Do(c)
		return err
	}))
	return current > 0, err
}

func (t *chromeTab) GoBack(ctx context.Context) error {
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		current, entries, err := page.GetNavigationHistory().Do(c)
		if err != nil {
			return err
		}
		if current <= 0 || int(current) >= len(entries) {
			return fmt.Errorf("no history entry before %d", current)
		}
		return page.NavigateToHistoryEntry(entries[current-1].ID).Do(c)
	}))
}

func (t *chromeTab) ContinueRequest(ctx context.Context, id string) error {
	return t.run(ctx, fetch.ContinueRequest(fetch.RequestID(id)))
}

func (t *chromeTab) BlockRequest(ctx context.Context, id string) error {
	return t.run(ctx, fetch.FailRequest(fetch.RequestID(id), network.ErrorReasonBlockedByClient))
}

func (t *chromeTab) ClosePopup(ctx context.Context, id string) error {
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		browserCtx := cdp.WithExecutor(c, chromedp.FromContext(c).Browser)
		return cdp.Execute(browserCtx, target.CommandCloseTarget, target.CloseTarget(target.ID(id)), nil)
	}))
}

func (t *chromeTab) AcceptDialog(ctx context.Context, promptText string) error {
	return t.run(ctx, page.HandleJavaScriptDialog(true).WithPromptText(promptText))
}

func (t *chromeTab) Close() {
	t.cancel()
	if t.release != nil {
		t.release()
	}
}
