package update

import (
	"fmt"
	"runtime"

	"github.com/hashicorp/go-version"

	"github.com/preflightdb/preflight/cli/internal/ui"
)

// latestKnownVersion is compared against the running build. Release
// automation rewrites it on tag.
const latestKnownVersion = "0.1.0"

// CheckForUpdates prints a notice when a newer release is known
func CheckForUpdates(currentVersion string) error {
	current, err := version.NewVersion(currentVersion)
	if err != nil {
		return fmt.Errorf("invalid version format: %w", err)
	}

	latest, err := version.NewVersion(latestKnownVersion)
	if err != nil {
		return fmt.Errorf("invalid latest version format: %w", err)
	}

	if current.LessThan(latest) {
		ui.PrintWarning("A new version is available!")
		fmt.Printf("Current version: %s\n", currentVersion)
		fmt.Printf("Latest version:  %s\n", latestKnownVersion)
		fmt.Printf("\nUpdate with: go install github.com/preflightdb/preflight@latest\n")
	}

	return nil
}

// GetDownloadURL returns the download URL for the current platform
func GetDownloadURL(version string) string {
	return fmt.Sprintf("https://github.com/preflightdb/preflight/releases/download/v%s/preflight-%s-%s",
		version, runtime.GOOS, runtime.GOARCH)
}
