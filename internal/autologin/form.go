package autologin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
)

var ErrIncompleteForm = errors.New("form descriptor requires username field, password field and submit selector")

// FormDescriptor names the login form of one target site. Fields are element
// ids; SubmitSelector is a CSS selector.
type FormDescriptor struct {
	UsernameField string
	PasswordField string
	// SupportField, when set, is filled with the value of SupportSource.
	SupportField   string
	SupportSource  string
	SubmitSelector string
	SubmitDelay    time.Duration
}

func NewFormDescriptor(cfg config.FormConfig) FormDescriptor {
	return FormDescriptor{
		UsernameField:  strings.TrimSpace(cfg.UsernameField),
		PasswordField:  strings.TrimSpace(cfg.PasswordField),
		SupportField:   strings.TrimSpace(cfg.SupportField),
		SupportSource:  strings.TrimSpace(cfg.SupportSource),
		SubmitSelector: strings.TrimSpace(cfg.SubmitSelector),
		SubmitDelay:    time.Duration(cfg.SubmitDelayMilli) * time.Millisecond,
	}
}

func (f FormDescriptor) Validate() error {
	if f.UsernameField == "" || f.PasswordField == "" || f.SubmitSelector == "" {
		return ErrIncompleteForm
	}
	return nil
}

func (f FormDescriptor) hasSupport() bool {
	return f.SupportField != "" && f.SupportSource != ""
}

var jsEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
)

// EscapeJS makes s safe to embed in a quoted script literal.
func EscapeJS(s string) string {
	return jsEscaper.Replace(s)
}

// Script returns the page script that fills and submits the form with cred.
// It evaluates to {success, error}.
func (f FormDescriptor) Script(cred models.Credential) string {
	var b strings.Builder
	b.WriteString("(function() {\n")
	fmt.Fprintf(&b, "  var user = document.getElementById('%s');\n", EscapeJS(f.UsernameField))
	fmt.Fprintf(&b, "  var pass = document.getElementById('%s');\n", EscapeJS(f.PasswordField))
	fmt.Fprintf(&b, "  var btn = document.querySelector('%s');\n", EscapeJS(f.SubmitSelector))
	b.WriteString("  if (!user || !pass || !btn) {\n")
	b.WriteString("    return {success: false, error: 'login form not found'};\n")
	b.WriteString("  }\n")
	b.WriteString("  var fields = [user, pass];\n")
	if f.hasSupport() {
		fmt.Fprintf(&b, "  var support = document.getElementById('%s');\n", EscapeJS(f.SupportField))
		fmt.Fprintf(&b, "  var source = document.getElementById('%s');\n", EscapeJS(f.SupportSource))
		b.WriteString("  if (!support || !source) {\n")
		b.WriteString("    return {success: false, error: 'support field not found'};\n")
		b.WriteString("  }\n")
		b.WriteString("  support.value = source.value;\n")
		b.WriteString("  fields.push(support);\n")
	}
	fmt.Fprintf(&b, "  user.value = '%s';\n", EscapeJS(cred.Username))
	fmt.Fprintf(&b, "  pass.value = '%s';\n", EscapeJS(cred.Password))
	b.WriteString("  fields.forEach(function(el) {\n")
	b.WriteString("    el.dispatchEvent(new Event('input', {bubbles: true}));\n")
	b.WriteString("    el.dispatchEvent(new Event('change', {bubbles: true}));\n")
	b.WriteString("  });\n")
	b.WriteString("  setTimeout(function() {\n")
	b.WriteString("    var form = btn.closest('form');\n")
	b.WriteString("    if (form) { form.submit(); } else { btn.click(); }\n")
	fmt.Fprintf(&b, "  }, %d);\n", f.SubmitDelay.Milliseconds())
	b.WriteString("  return {success: true};\n")
	b.WriteString("})();")
	return b.String()
}
