// Package volid stamps and reads a random identifier for a filesystem
// image, the way gcsfuse's mount path tags each bucket mount with a
// `github.com/google/uuid` value for operator-facing identification in
// logs and diagnostics. The identifier plays no role in the on-disk
// layout spec.md §4/§6 define; it lives in a sidecar file next to the
// image (`<image>.volid`) rather than inside the image itself, so
// mkfs's superblock stays exactly the free map and root directory
// spec.md describes.
package volid

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Stamp writes a fresh random volume ID to imagePath+".volid",
// returning the ID. Called by cmd/mkfs once per freshly formatted
// image.
func Stamp(imagePath string) (string, error) {
	id := uuid.New().String()
	if err := os.WriteFile(sidecarPath(imagePath), []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("volid: stamping %s: %w", imagePath, err)
	}
	return id, nil
}

// Read returns the volume ID stamped for imagePath, or an error if
// the image was never stamped (e.g. created outside cmd/mkfs).
func Read(imagePath string) (string, error) {
	data, err := os.ReadFile(sidecarPath(imagePath))
	if err != nil {
		return "", fmt.Errorf("volid: reading volume id for %s: %w", imagePath, err)
	}
	id := strings.TrimSpace(string(data))
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("volid: %s has a corrupt volume id: %w", imagePath, err)
	}
	return id, nil
}

func sidecarPath(imagePath string) string { return imagePath + ".volid" }
