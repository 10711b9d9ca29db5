package recorder

import (
	_ "embed"
	"strings"
)

// Page bindings installed by the browser session. The page calls them with a
// single string argument.
const (
	BindingEmit  = "__naviguardEmit"
	BindingClose = "__naviguardClose"
)

// MarkerAttr tags the field chosen by a mark-login action in the page snapshot.
const MarkerAttr = "data-ng-mark"

var (
	//go:embed scripts/capture.js
	CaptureScript string

	//go:embed scripts/focus.js
	FocusTrackerScript string

	//go:embed scripts/close.js
	CloseOverrideScript string

	//go:embed scripts/mark.js
	markScript string
)

// MarkFieldScript returns a script that tags the focused text field with
// MarkerAttr, outlines it briefly and evaluates to the page markup. It
// evaluates to "" when no INPUT or TEXTAREA is focused.
func MarkFieldScript() string {
	return strings.TrimSpace(markScript) + "('" + MarkerAttr + "');"
}
