package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateOutputDir creates the timestamped suite output directory under
// baseDir and repoints the "latest" symlink at it. baseDir must already
// exist.
func CreateOutputDir(baseDir, suiteName string) (string, error) {
	info, err := os.Stat(baseDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("output directory %s must exist", baseDir)
	}
	stamp := time.Now().Format("02Jan2006_150405")
	outDir, err := filepath.Abs(filepath.Join(baseDir, suiteName+"_"+stamp))
	if err != nil {
		return "", fmt.Errorf("resolving output dir: %w", err)
	}
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(outDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return outDir, nil
}
