// internal/scenario/builtin.go
package scenario

import "github.com/xkilldash9x/mockroute/internal/config"

// Screenshot file names of the built-in scenarios, relative to the artifacts directory.
const (
	FeedScreenshot    = "feed.png"
	ExploreScreenshot = "explore.png"
)

// LoginAndFeed signs in with the target credentials and checks that the
// feed renders.
func LoginAndFeed(target config.TargetConfig) Scenario {
	return Scenario{
		Name: "login-and-feed",
		Steps: []Step{
			Navigate("/login").WithMessage("Navigating to login..."),
			Fill("input[type='email']", target.Email).WithMessage("Filling login form..."),
			FillSecret("input[type='password']", target.Password),
			Click("button[type='submit']"),
			WaitForURL("/").WithMessage("Waiting for feed..."),
			WaitForText("Delicious Pasta").WithMessage("Verifying feed..."),
			Screenshot(FeedScreenshot).WithDone("Feed screenshot taken."),
		},
	}
}

// Explore opens the explore page and checks that the category browser renders.
func Explore() Scenario {
	return Scenario{
		Name: "explore",
		Steps: []Step{
			Navigate("/explore").WithMessage("Navigating to explore..."),
			WaitForText("Browse by Category").WithMessage("Verifying explore..."),
			Screenshot(ExploreScreenshot).WithDone("Explore screenshot taken."),
		},
	}
}

// Smoke is the default run: login and feed, then explore, in one page.
func Smoke(target config.TargetConfig) []Scenario {
	return []Scenario{LoginAndFeed(target), Explore()}
}
