//go:build !windows

package install

import "errors"

func registryInstallPath() (string, error) {
	return "", errors.New("registry is only available on windows")
}
