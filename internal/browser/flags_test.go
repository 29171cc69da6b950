// internal/browser/flags_test.go
package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/mockroute/internal/config"
)

func TestLaunchFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		args := Args(LaunchFlags(config.BrowserConfig{}, ""))
		assert.Equal(t, []string{"--disable-gpu", "--no-sandbox", "--disable-dev-shm-usage"}, args)
	})

	t.Run("AllOptions", func(t *testing.T) {
		cfg := config.BrowserConfig{
			DisableCache:    true,
			IgnoreTLSErrors: true,
			Viewport:        map[string]int{"width": 1280, "height": 720},
			Args:            []string{"--lang=en-US", "mute-audio", "  ", "--"},
		}
		args := Args(LaunchFlags(cfg, "http://127.0.0.1:8899"))
		assert.Equal(t, []string{
			"--disable-gpu",
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disk-cache-size=1",
			"--media-cache-size=1",
			"--ignore-certificate-errors",
			"--allow-insecure-localhost",
			"--window-size=1280,720",
			"--proxy-server=http://127.0.0.1:8899",
			"--proxy-bypass-list=<-loopback>",
			"--lang=en-US",
			"--mute-audio",
		}, args)
	})

	t.Run("PartialViewportIgnored", func(t *testing.T) {
		cfg := config.BrowserConfig{Viewport: map[string]int{"width": 800}}
		assert.NotContains(t, Args(LaunchFlags(cfg, "")), "--window-size=800,0")
	})
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want Flag
		ok   bool
	}{
		{"--headless=new", Flag{"headless", "new"}, true},
		{"-mute-audio", Flag{"mute-audio", true}, true},
		{"window-size=10,10", Flag{"window-size", "10,10"}, true},
		{"", Flag{}, false},
		{"---", Flag{}, false},
	}
	for _, tt := range tests {
		got, ok := parseArg(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFlagArg(t *testing.T) {
	assert.Equal(t, "--no-sandbox", Flag{"no-sandbox", true}.Arg())
	assert.Equal(t, "--no-sandbox=false", Flag{"no-sandbox", false}.Arg())
	assert.Equal(t, "--remote-debugging-port=9222", Flag{"remote-debugging-port", 9222}.Arg())
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{DisableCache: true}
	opts := AllocatorOptions(cfg, "")
	// Defaults, the headless toggle, then one option per launch flag.
	assert.Len(t, opts, len(chromedp.DefaultExecAllocatorOptions)+1+len(LaunchFlags(cfg, "")))
}
