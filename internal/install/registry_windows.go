//go:build windows

package install

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// registryKeys are checked in order; the WOW6432Node view is what the
// Battle.net installer writes on 64-bit Windows.
var registryKeys = []string{
	`SOFTWARE\WOW6432Node\Blizzard Entertainment\World of Warcraft`,
	`SOFTWARE\Blizzard Entertainment\World of Warcraft`,
}

// registryInstallPath reads InstallPath from the Blizzard registry key.
func registryInstallPath() (string, error) {
	var lastErr error
	for _, path := range registryKeys {
		k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
		if err != nil {
			lastErr = err
			continue
		}
		v, _, err := k.GetStringValue("InstallPath")
		_ = k.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if v != "" {
			return v, nil
		}
	}
	if lastErr == nil {
		return "", errors.New("install path not set in registry")
	}
	return "", fmt.Errorf("read install path from registry: %w", lastErr)
}
