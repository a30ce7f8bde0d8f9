//go:build !unix

package source

// processUsage is unavailable off unix.
func processUsage() map[string]any {
	return nil
}
