package executor

import (
	"fmt"
	"strings"
	"time"
)

var (
	selectorEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`)
	valueEscaper    = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
)

// EscapeSelector makes a selector safe inside a quoted script literal.
func EscapeSelector(s string) string {
	return selectorEscaper.Replace(s)
}

// EscapeValue makes a typed value safe inside a quoted script literal.
func EscapeValue(s string) string {
	return valueEscaper.Replace(s)
}

func clickScript(selector string, delay time.Duration) string {
	return fmt.Sprintf(`(function() {
  var el = document.querySelector('%s');
  if (!el) return false;
  el.scrollIntoView({behavior: 'smooth', block: 'center'});
  setTimeout(function() { el.click(); }, %d);
  return true;
})();`, EscapeSelector(selector), delay.Milliseconds())
}

func inputScript(selector, value string) string {
	return fmt.Sprintf(`(function() {
  var el = document.querySelector('%s');
  if (!el) return false;
  el.focus();
  el.value = '%s';
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})();`, EscapeSelector(selector), EscapeValue(value))
}

func enterScript(selector string) string {
	return fmt.Sprintf(`(function() {
  var el = document.querySelector('%s');
  if (!el) return false;
  var opts = {key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true};
  el.dispatchEvent(new KeyboardEvent('keydown', opts));
  el.dispatchEvent(new KeyboardEvent('keypress', opts));
  return true;
})();`, EscapeSelector(selector))
}

// credentialsScript fills both login fields. It evaluates to true only when
// both fields exist.
func credentialsScript(userSelector, passSelector, username, password string) string {
	return fmt.Sprintf(`(function() {
  function fill(sel, value) {
    var el = document.querySelector(sel);
    if (!el) return false;
    el.focus();
    el.value = value;
    el.dispatchEvent(new Event('input', {bubbles: true}));
    el.dispatchEvent(new Event('change', {bubbles: true}));
    return true;
  }
  var user = fill('%s', '%s');
  var pass = fill('%s', '%s');
  return user && pass;
})();`, EscapeSelector(userSelector), EscapeValue(username), EscapeSelector(passSelector), EscapeValue(password))
}
