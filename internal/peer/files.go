package peer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/tether/internal/message"
)

// relocate moves a received file out of the transport's temporary location.
// The resolver picks the destination; without one the file lands in fileDir,
// named after the message id.
func (c *Communicator) relocate(m message.Message, tempPath string) (string, error) {
	c.mu.RLock()
	resolver := c.resolver
	c.mu.RUnlock()

	var dst string
	if resolver != nil {
		p, err := resolver(m, tempPath)
		if err != nil {
			return "", fmt.Errorf("resolve file location: %w", err)
		}
		dst = p
	} else {
		name := m.ID
		if orig, ok := m.FilePath(); ok && orig != "" {
			name += "-" + filepath.Base(orig)
		}
		dst = filepath.Join(c.fileDir, name)
	}
	if dst == "" {
		return "", errors.New("resolve file location: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}
	if err := moveFile(tempPath, dst); err != nil {
		return "", err
	}
	c.logger.Debug("received file stored", "id", m.ID, "path", dst)
	return dst, nil
}

// moveFile renames src to dst, copying when a rename is impossible
// (different filesystems).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open received file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy received file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	os.Remove(src)
	return nil
}
