package chrome

import (
	"fmt"
	"path/filepath"

	"github.com/chromedp/chromedp"
)

// Options describes one browser process.
type Options struct {
	ExecPath string
	Headless bool
	// UserDataDir isolates cookies and storage; one directory per operator.
	UserDataDir string
	// ProxyServer is host:port, empty for a direct connection.
	ProxyServer string
	UserAgent   string
}

// ProfileDir returns the storage partition of userID under root. Anonymous
// sessions share the "anonymous" partition.
func ProfileDir(root string, userID int64) string {
	if userID <= 0 {
		return filepath.Join(root, "anonymous")
	}
	return filepath.Join(root, fmt.Sprintf("user_%d", userID))
}

// Flags returns the command line switches for opts.
func Flags(opts Options) map[string]any {
	flags := map[string]any{
		"headless":                               opts.Headless,
		"disable-blink-features":                 "AutomationControlled",
		"disable-dev-shm-usage":                  true,
		"disable-background-timer-throttling":    true,
		"disable-backgrounding-occluded-windows": true,
		"disable-renderer-backgrounding":         true,
		"disable-popup-blocking":                 true,
		"no-first-run":                           true,
		"no-default-browser-check":               true,
		"disable-sync":                           true,
		"no-pings":                               true,
		"no-crash-upload":                        true,
	}
	if opts.ProxyServer != "" {
		flags["proxy-server"] = opts.ProxyServer
	}
	return flags
}

// AllocatorOptions builds the chromedp exec allocator options for opts.
func AllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range Flags(opts) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	return allocOpts
}
