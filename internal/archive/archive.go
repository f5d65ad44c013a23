// Package archive compresses and prunes per-run workload output
// directories after a workload completes.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	units "github.com/docker/go-units"
)

// heavyExts are data files excluded from archives; they dominate run
// output size and are reproducible from the workload itself.
var heavyExts = map[string]bool{
	".root": true,
}

var runDirRe = regexp.MustCompile(`^run\d+$`)

// Manager archives workload run output under a results root. All
// destructive actions are gated on the path still resolving inside
// ResultsRoot.
type Manager struct {
	// ResultsRoot is the suite output directory every pruned path must
	// resolve under.
	ResultsRoot string
	// Enabled gates the whole retention pass.
	Enabled bool
	// Backend is the container backend name. Under docker the run
	// output may be root-owned, so an unprivileged user cannot safely
	// prune it.
	Backend string
}

// Archive tars and prunes every workload output directory matching
// globPrefix under workDir's run<i> subdirectories. It returns false
// without touching the filesystem when retention is disabled or any
// safety check refuses the operation. Individual directory failures
// are logged and skipped.
func (m *Manager) Archive(workDir, globPrefix string) bool {
	if !m.Enabled {
		return false
	}
	if m.Backend == "docker" && os.Geteuid() != 0 {
		log.Printf("warning: refusing cleanup: docker run output may not be owned by the current user")
		return false
	}
	if err := checkPrefix(globPrefix); err != nil {
		log.Printf("warning: refusing cleanup: %v", err)
		return false
	}
	if err := checkWorkDir(workDir); err != nil {
		log.Printf("warning: refusing cleanup: %v", err)
		return false
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		log.Printf("warning: reading %s: %v", workDir, err)
		return false
	}
	for _, entry := range entries {
		if !runDirRe.MatchString(entry.Name()) || !isRealDir(filepath.Join(workDir, entry.Name())) {
			continue
		}
		m.archiveRunDir(filepath.Join(workDir, entry.Name()), globPrefix)
	}
	return true
}

func (m *Manager) archiveRunDir(runDir, globPrefix string) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		log.Printf("warning: reading %s: %v", runDir, err)
		return
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), globPrefix) {
			continue
		}
		dir := filepath.Join(runDir, entry.Name())
		if !isRealDir(dir) {
			continue
		}
		if !containedIn(dir, m.ResultsRoot) {
			log.Printf("warning: %s resolves outside the results directory, skipping", dir)
			continue
		}
		if err := m.archiveOne(dir); err != nil {
			// Each directory is independent; one failure never aborts
			// the rest.
			log.Printf("warning: archiving %s: %v", dir, err)
		}
	}
}

func (m *Manager) archiveOne(dir string) error {
	tarPath := dir + ".tar.gz"
	size, err := writeTar(dir, tarPath)
	if err != nil {
		os.Remove(tarPath)
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("pruning %s: %w", dir, err)
	}
	log.Printf("archived %s (%s)", tarPath, units.HumanSize(float64(size)))
	return nil
}

// checkPrefix rejects glob prefixes that could widen the match beyond
// the workload's own output.
func checkPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("empty glob prefix")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("glob prefix %q contains a traversal segment", prefix)
	}
	if strings.ContainsAny(prefix, `/\`) {
		return fmt.Errorf("glob prefix %q contains a path separator", prefix)
	}
	return nil
}

func checkWorkDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("empty working path")
	}
	if filepath.Clean(dir) == string(filepath.Separator) {
		return fmt.Errorf("working path is the filesystem root")
	}
	for _, seg := range strings.Split(dir, string(filepath.Separator)) {
		if seg == ".." {
			return fmt.Errorf("working path %q contains a traversal segment", dir)
		}
	}
	return nil
}

// containedIn reports whether path, with symlinks resolved, is still
// rooted under root. Checked once before any destructive action.
func containedIn(path, root string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isRealDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0
}

// writeTar archives dir into a gzipped tar at tarPath, excluding files
// with a recognized heavy binary-data extension. Returns the archive
// size in bytes.
func writeTar(dir, tarPath string) (int64, error) {
	out, err := os.Create(tarPath)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	cw := &countWriter{w: out}
	gz := gzip.NewWriter(cw)
	tw := tar.NewWriter(gz)

	base := filepath.Dir(dir)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		if heavyExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing archive: %w", err)
	}
	return cw.n, nil
}

// countWriter tracks the number of bytes written through it, so the
// archive size is known without a second stat of the file.
type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
