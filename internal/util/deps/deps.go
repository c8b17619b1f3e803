package deps

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// openers lists the URL handlers tried per platform, in order.
var openers = map[string][]string{
	"darwin":  {"open"},
	"windows": {"rundll32.exe"},
}

var defaultOpeners = []string{"xdg-open", "wslview", "sensible-browser"}

// FindOpener returns the path of a program able to open URLs in a browser.
// If customPath is non-empty, it tries that path or looks it up in PATH.
func FindOpener(customPath string) (string, error) {
	if customPath != "" {
		if _, err := os.Stat(customPath); err == nil {
			return customPath, nil
		}
		if p, err := exec.LookPath(customPath); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("could not find browser opener at %q", customPath)
	}
	candidates, ok := openers[runtime.GOOS]
	if !ok {
		candidates = defaultOpeners
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("could not find a browser opener (%v) in PATH", candidates)
}
