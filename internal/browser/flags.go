// internal/browser/flags.go
package browser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/mockroute/internal/config"
)

// Flag is a single Chromium command line switch. Value is true for bare
// switches and a string otherwise.
type Flag struct {
	Name  string
	Value interface{}
}

// Arg renders the flag as a command line argument.
func (f Flag) Arg() string {
	if b, ok := f.Value.(bool); ok && b {
		return "--" + f.Name
	}
	return fmt.Sprintf("--%s=%v", f.Name, f.Value)
}

// LaunchFlags computes the Chromium switches shared by both backends. Headless
// mode is not included because each backend toggles it its own way.
func LaunchFlags(cfg config.BrowserConfig, proxyServer string) []Flag {
	// Stability defaults, mostly for containers.
	flags := []Flag{
		{"disable-gpu", true},
		{"no-sandbox", true},
		{"disable-dev-shm-usage", true},
	}

	if cfg.DisableCache {
		flags = append(flags,
			Flag{"disk-cache-size", "1"},
			Flag{"media-cache-size", "1"},
		)
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			Flag{"ignore-certificate-errors", true},
			Flag{"allow-insecure-localhost", true},
		)
	}
	if w, h := viewport(cfg); w > 0 && h > 0 {
		flags = append(flags, Flag{"window-size", fmt.Sprintf("%d,%d", w, h)})
	}
	if proxyServer != "" {
		// Chromium skips the proxy for loopback hosts unless told otherwise,
		// and the app under test usually lives on localhost.
		flags = append(flags,
			Flag{"proxy-server", proxyServer},
			Flag{"proxy-bypass-list", "<-loopback>"},
		)
	}

	for _, arg := range cfg.Args {
		if f, ok := parseArg(arg); ok {
			flags = append(flags, f)
		}
	}
	return flags
}

// AllocatorOptions converts the configuration into chromedp exec allocator options.
func AllocatorOptions(cfg config.BrowserConfig, proxyServer string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	for _, f := range LaunchFlags(cfg, proxyServer) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}

// Args renders flags as command line arguments in a stable order.
func Args(flags []Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Arg())
	}
	return out
}

func parseArg(arg string) (Flag, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return Flag{}, false
	}
	if name, value, ok := strings.Cut(arg, "="); ok {
		return Flag{Name: name, Value: value}, true
	}
	return Flag{Name: arg, Value: true}, true
}

func viewport(cfg config.BrowserConfig) (int, int) {
	if cfg.Viewport == nil {
		return 0, 0
	}
	return cfg.Viewport["width"], cfg.Viewport["height"]
}

func sortedHeaderNames(h map[string]string) []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
