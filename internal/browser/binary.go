package browser

import (
	"os"

	"github.com/formpilot/formpilot/internal/domain"
)

// Chromium locations probed on Linux hosts, in order
var linuxCandidates = []string{
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome",
}

// StatFunc matches os.Stat
type StatFunc func(name string) (os.FileInfo, error)

// ResolveBinary picks the browser executable for goos.
// An explicit path must exist. On Linux the system Chromium is preferred; when none is
// installed the bundled browser is used (empty result) unless requireSystem is set.
func ResolveBinary(goos, configured string, requireSystem bool, stat StatFunc) (string, error) {
	if stat == nil {
		stat = os.Stat
	}

	if configured != "" {
		if _, err := stat(configured); err != nil {
			return "", domain.ErrBinaryNotFound(goos, []string{configured}).WithCause(err)
		}
		return configured, nil
	}

	if goos != "linux" {
		if requireSystem {
			return "", domain.ErrBinaryNotFound(goos, nil).
				WithDetails("set BROWSER_BINARY_PATH on this platform")
		}
		return "", nil
	}

	for _, c := range linuxCandidates {
		if _, err := stat(c); err == nil {
			return c, nil
		}
	}

	if requireSystem {
		return "", domain.ErrBinaryNotFound(goos, linuxCandidates)
	}
	return "", nil
}
