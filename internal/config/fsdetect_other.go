//go:build !linux

package config

// IsNetworkFilesystem always reports false where statfs magic numbers are
// not available; the /mnt/ prefix rule still applies.
func IsNetworkFilesystem(path string) (bool, string) {
	return false, ""
}
