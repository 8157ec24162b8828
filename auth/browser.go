package auth

import (
	"io"

	"github.com/pkg/browser"
)

// openURL is swapped in tests
var openURL = browser.OpenURL

func init() {
	// keep the launcher's own output out of the service logs
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// OpenBrowser opens url in the user's default browser
func OpenBrowser(url string) error {
	return openURL(url)
}
