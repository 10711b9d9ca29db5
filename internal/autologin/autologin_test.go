package autologin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEvaluator struct {
	mu      sync.Mutex
	scripts []string
	results []scriptResult
	err     error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, script string, res any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	if f.err != nil {
		return f.err
	}
	out := scriptResult{Success: true}
	if len(f.results) > 0 {
		out = f.results[0]
		f.results = f.results[1:]
	}
	raw, _ := json.Marshal(out)
	return json.Unmarshal(raw, res)
}

func (f *fakeEvaluator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scripts)
}

var defaultForm = config.FormConfig{
	UsernameField:    "txtemail",
	PasswordField:    "txtpas",
	SupportField:     "txtcarac",
	SupportSource:    "txtcodcarac",
	SubmitSelector:   ".btn_access",
	SubmitDelayMilli: 500,
}

func testOptions() Options {
	return Options{
		Enabled:        true,
		LoginURLMatch:  "login.php",
		TargetURLMatch: "rep_new.php",
		SettleDelay:    20 * time.Millisecond,
		MaxAttempts:    1,
		RetryBackoff:   time.Millisecond,
		Form:           NewFormDescriptor(defaultForm),
	}
}

type hookCounter struct {
	show, hide, rearm atomic.Int32
}

func (h *hookCounter) hooks() Hooks {
	return Hooks{
		ShowOverlay: func() { h.show.Add(1) },
		HideOverlay: func() { h.hide.Add(1) },
		Rearm:       func() { h.rearm.Add(1) },
	}
}

var cred = models.Credential{Username: "ops@example.com", Password: "s3cr3t"}

const loginURL = "https://portal.example.com/login.php"

func TestSetCredentialArms(t *testing.T) {
	o := New(testOptions(), &fakeEvaluator{}, Hooks{}, zap.NewNop())
	defer o.Close()

	assert.Equal(t, Idle, o.State())
	o.SetCredential(cred)
	assert.Equal(t, AwaitingLoginPage, o.State())
	o.ClearCredential()
	assert.Equal(t, Idle, o.State())
}

func TestLoginPageInjectsOnce(t *testing.T) {
	eval := &fakeEvaluator{}
	var h hookCounter
	o := New(testOptions(), eval, h.hooks(), zap.NewNop())
	defer o.Close()
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	assert.Equal(t, Injecting, o.State())
	assert.True(t, o.State().Executed())
	o.OnLoadComplete(loginURL)
	o.OnLoadComplete(loginURL + "?again=1")
	o.Wait()

	assert.Equal(t, 1, eval.calls())
	assert.Equal(t, 1, o.Evaluations())
	assert.Equal(t, Submitted, o.State())
	assert.Equal(t, int32(1), h.show.Load())
	assert.Contains(t, eval.scripts[0], "ops@example.com")
}

func TestLoginPageWithoutCredentialIsIgnored(t *testing.T) {
	eval := &fakeEvaluator{}
	o := New(testOptions(), eval, Hooks{}, zap.NewNop())
	defer o.Close()

	o.OnLoadComplete(loginURL)
	o.Wait()
	assert.Zero(t, eval.calls())
	assert.Equal(t, Idle, o.State())
}

func TestLogoutRearms(t *testing.T) {
	eval := &fakeEvaluator{}
	var h hookCounter
	o := New(testOptions(), eval, h.hooks(), zap.NewNop())
	defer o.Close()
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	o.Wait()
	require.Equal(t, Submitted, o.State())

	o.OnLoadComplete(loginURL)
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, int32(1), h.rearm.Load())
	assert.Equal(t, 1, eval.calls(), "logout detection does not inject")

	o.OnLoadComplete(loginURL)
	o.Wait()
	assert.Equal(t, 2, eval.calls())
	assert.Equal(t, Submitted, o.State())
}

func TestTargetPageHidesOverlay(t *testing.T) {
	var h hookCounter
	o := New(testOptions(), &fakeEvaluator{}, h.hooks(), zap.NewNop())
	defer o.Close()

	o.OnLoadComplete("https://portal.example.com/rep_new.php?id=4")
	assert.Equal(t, int32(1), h.hide.Load())
	assert.Equal(t, Idle, o.State())
}

func TestMissingFieldsIsSoftFailure(t *testing.T) {
	eval := &fakeEvaluator{results: []scriptResult{{Success: false, Error: "login form not found"}}}
	var h hookCounter
	o := New(testOptions(), eval, h.hooks(), zap.NewNop())
	defer o.Close()
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	o.Wait()

	assert.Equal(t, 1, eval.calls())
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, int32(1), h.hide.Load())
}

func TestRetryIsBounded(t *testing.T) {
	opts := testOptions()
	opts.MaxAttempts = 3
	eval := &fakeEvaluator{err: errors.New("execution context was destroyed")}
	o := New(opts, eval, Hooks{}, zap.NewNop())
	defer o.Close()
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	o.Wait()
	assert.Equal(t, 3, eval.calls())
	assert.Equal(t, Idle, o.State())
}

func TestRetryStopsOnSuccess(t *testing.T) {
	opts := testOptions()
	opts.MaxAttempts = 3
	eval := &fakeEvaluator{results: []scriptResult{{Success: false}, {Success: true}}}
	o := New(opts, eval, Hooks{}, zap.NewNop())
	defer o.Close()
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	o.Wait()
	assert.Equal(t, 2, eval.calls())
	assert.Equal(t, Submitted, o.State())
}

func TestCloseCancelsPendingInjection(t *testing.T) {
	opts := testOptions()
	opts.SettleDelay = time.Hour
	eval := &fakeEvaluator{}
	o := New(opts, eval, Hooks{}, zap.NewNop())
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	o.Close()

	assert.Zero(t, eval.calls())
	assert.Equal(t, Idle, o.State())
	o.OnLoadComplete(loginURL)
	assert.Equal(t, Idle, o.State())
}

func TestDisabledAndIncompleteForm(t *testing.T) {
	opts := testOptions()
	opts.Form.SubmitSelector = ""
	eval := &fakeEvaluator{}
	o := New(opts, eval, Hooks{}, zap.NewNop())
	defer o.Close()
	o.SetCredential(cred)

	o.OnLoadComplete(loginURL)
	o.Wait()
	assert.Zero(t, eval.calls())
}

func TestScript(t *testing.T) {
	form := NewFormDescriptor(defaultForm)
	script := form.Script(models.Credential{Username: `o'brien`, Password: `a"b\c`})

	assert.Contains(t, script, `document.getElementById('txtemail')`)
	assert.Contains(t, script, `document.querySelector('.btn_access')`)
	assert.Contains(t, script, `support.value = source.value;`)
	assert.Contains(t, script, `user.value = 'o\'brien';`)
	assert.Contains(t, script, `pass.value = 'a\"b\\c';`)
	assert.Contains(t, script, "btn.closest('form')")
	assert.Contains(t, script, "}, 500);")

	form.SupportField = ""
	assert.NotContains(t, form.Script(cred), "support")
}

func TestEscapeJS(t *testing.T) {
	assert.Equal(t, `\\`, EscapeJS(`\`))
	assert.Equal(t, `it\'s \"x\"`, EscapeJS(`it's "x"`))
	assert.Equal(t, `a\nb`, EscapeJS("a\nb"))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.AutoLoginConfig{
		Enabled:       true,
		LoginURLMatch: "login.php",
		SettleDelay:   time.Second,
		Form:          defaultForm,
	})
	assert.Equal(t, 500*time.Millisecond, opts.Form.SubmitDelay)
	assert.Equal(t, "txtcodcarac", opts.Form.SupportSource)
	assert.NoError(t, opts.Form.Validate())
}
