//go:build !darwin && !linux

package storage

// filesystemType cannot inspect mounts here; the path is treated as local.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
