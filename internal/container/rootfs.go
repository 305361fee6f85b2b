package container

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ariacorp/ariarun/internal/container/hostops"
)

// layerRefs tracks the reference count of each shared overlay base layer,
// keyed by image fingerprint (§4.5.2).
var layerRefs = struct {
	mu    sync.Mutex
	count map[string]int
}{count: map[string]int{}}

func fingerprint(image string) (string, error) {
	fi, err := os.Stat(image)
	if err != nil {
		return "", fmt.Errorf("container: stat image %s: %w", image, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d", image, fi.Size(), fi.ModTime().UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// stageRootfs builds a container's rootfs under workspace. If the host
// supports overlayfs, the image is extracted once per fingerprint into a
// shared base layer (ref-counted) and mounted as an overlay with a
// per-container upper/work dir; otherwise it falls back to direct
// extraction. Extraction itself is atomic (extract to temp, rename) —
// enforced by the hostops implementation.
func stageRootfs(ctx context.Context, host hostops.HostOps, imageCacheRoot, workspace, image string) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("container: create workspace: %w", err)
	}

	if !host.SupportsOverlay() {
		rootfs := filepath.Join(workspace, "rootfs")
		return host.ExtractImage(ctx, image, rootfs)
	}

	fp, err := fingerprint(image)
	if err != nil {
		return err
	}
	baseDir := filepath.Join(imageCacheRoot, fp)

	layerRefs.mu.Lock()
	_, exists := layerRefs.count[fp]
	if !exists {
		layerRefs.mu.Unlock()
		if _, statErr := os.Stat(baseDir); statErr != nil {
			if err := host.ExtractImage(ctx, image, baseDir); err != nil {
				return fmt.Errorf("container: extract base layer: %w", err)
			}
		}
		layerRefs.mu.Lock()
	}
	layerRefs.count[fp]++
	layerRefs.mu.Unlock()

	upper := filepath.Join(workspace, "upper")
	work := filepath.Join(workspace, "work")
	merged := filepath.Join(workspace, "rootfs")
	return host.MountOverlay(ctx, hostops.MountSpec{LowerDir: baseDir, UpperDir: upper, WorkDir: work, Target: merged})
}

// unmountRootfs reverses the overlay mount step of stageRootfs (§4.5.6
// step 3: unmount in reverse of mount order, lazy fallback on busy).
func unmountRootfs(ctx context.Context, host hostops.HostOps, workspace string) {
	if !host.SupportsOverlay() {
		return
	}
	_ = host.Unmount(ctx, filepath.Join(workspace, "rootfs"))
}

// removeRootfs deletes the per-container rootfs (§4.5.6 step 6):
// overlay-aware (decrement the shared base layer's refcount, removing it
// once unreferenced) or a plain extracted-directory delete.
func removeRootfs(host hostops.HostOps, imageCacheRoot, workspace, image string) {
	if host.SupportsOverlay() {
		if fp, err := fingerprint(image); err == nil {
			layerRefs.mu.Lock()
			layerRefs.count[fp]--
			refs := layerRefs.count[fp]
			if refs <= 0 {
				delete(layerRefs.count, fp)
			}
			layerRefs.mu.Unlock()
			if refs <= 0 {
				os.RemoveAll(filepath.Join(imageCacheRoot, fp))
			}
		}
	}
	os.RemoveAll(workspace)
}
