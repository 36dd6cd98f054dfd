package backend

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kandev/nodeforge/internal/domain"
)

var attachmentCounter int64

// materializedAttachment is a prompt attachment already resolved to a path
// on disk, plus whether that path was created by normalization (and so
// must be cleaned up once the prompt completes).
type materializedAttachment struct {
	path    string
	created bool
}

// normalizeAttachments resolves every attachment to a file path inside the
// worker's base directory, copying or decoding anything that isn't already
// there. It returns a cleanup func that removes every file it created,
// safe to call regardless of prompt outcome.
func (f *Factory) normalizeAttachments(workerID string, attachments []domain.Attachment) ([]materializedAttachment, func(), error) {
	var materialized []materializedAttachment
	cleanup := func() {
		for _, m := range materialized {
			if m.created {
				_ = os.Remove(m.path)
			}
		}
	}

	if len(attachments) == 0 {
		return nil, cleanup, nil
	}

	dir := filepath.Join(f.BaseDir, ".opencode", "attachments")
	baseDir := filepath.Clean(f.BaseDir)

	for _, a := range attachments {
		switch {
		case a.Base64 != "":
			data, err := base64.StdEncoding.DecodeString(a.Base64)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("decode attachment %q: %w", a.Filename, err)
			}
			path, err := writeAttachment(dir, workerID, filepath.Ext(a.Filename), data)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			materialized = append(materialized, materializedAttachment{path: path, created: true})

		case a.Path != "":
			abs, err := filepath.Abs(a.Path)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("resolve attachment path %q: %w", a.Path, err)
			}
			if strings.HasPrefix(abs, baseDir+string(filepath.Separator)) || abs == baseDir {
				materialized = append(materialized, materializedAttachment{path: abs})
				continue
			}
			dest, err := copyAttachment(dir, workerID, abs)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			materialized = append(materialized, materializedAttachment{path: dest, created: true})
		}
	}

	return materialized, cleanup, nil
}

func writeAttachment(dir, workerID, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachments dir: %w", err)
	}
	path := filepath.Join(dir, attachmentName(workerID, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

func copyAttachment(dir, workerID, srcPath string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachments dir: %w", err)
	}
	dest := filepath.Join(dir, attachmentName(workerID, filepath.Ext(srcPath)))

	in, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open attachment source %q: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create attachment copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copy attachment %q: %w", srcPath, err)
	}
	return dest, nil
}

func attachmentName(workerID, ext string) string {
	return fmt.Sprintf("%s-%d-%d%s", workerID, time.Now().Unix(), atomic.AddInt64(&attachmentCounter, 1), ext)
}
