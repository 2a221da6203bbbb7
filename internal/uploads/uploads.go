// Package uploads stores user-provided logo and signature images under the
// application data directory and resolves them safely for serving.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/srfd-tools/gristpdf/pkg/telemetry"
)

const (
	// MaxLogoSize caps logo uploads at 2 MiB.
	MaxLogoSize = 2 << 20
	// MaxSignatureSize caps signature uploads at 5 MiB.
	MaxSignatureSize = 5 << 20

	logosDir      = "logos"
	signaturesDir = "signatures"
)

var (
	logoExtensions      = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".svg": true}
	signatureExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
)

var (
	// ErrExtension indicates a file type outside the allow-list.
	ErrExtension = errors.New("file extension not allowed")
	// ErrTooLarge indicates the upload exceeds its size cap.
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty indicates a zero-byte upload or missing filename.
	ErrEmpty = errors.New("empty upload")
	// ErrOutsideRoot indicates a serve path escaping the uploads tree.
	ErrOutsideRoot = errors.New("path outside uploads directory")
)

// Saved describes a stored upload. RelativePath is the stable reference
// clients later pass back as a profile image path.
type Saved struct {
	Filename     string `json:"filename"`
	Path         string `json:"-"`
	RelativePath string `json:"filepath"`
}

// Saver writes uploads under <root>/uploads/{logos,signatures}.
type Saver struct {
	root string
	log  *telemetry.Logger
	now  func() time.Time
}

func NewSaver(root string, log *telemetry.Logger) *Saver {
	if log == nil {
		log = telemetry.Nop
	}
	return &Saver{root: root, log: log, now: time.Now}
}

// EnsureDirs creates the upload folders up front so the first request never
// races directory creation.
func (s *Saver) EnsureDirs() error {
	for _, sub := range []string{logosDir, signaturesDir} {
		if err := os.MkdirAll(filepath.Join(s.root, "uploads", sub), 0o755); err != nil {
			return fmt.Errorf("create uploads dir: %w", err)
		}
	}
	return nil
}

// SaveLogo stores a logo image. SVG is accepted for logos only.
func (s *Saver) SaveLogo(name string, r io.Reader) (Saved, error) {
	return s.save(logosDir, name, r, logoExtensions, MaxLogoSize)
}

// SaveSignature stores a signature image.
func (s *Saver) SaveSignature(name string, r io.Reader) (Saved, error) {
	return s.save(signaturesDir, name, r, signatureExtensions, MaxSignatureSize)
}

func (s *Saver) save(sub, name string, r io.Reader, allowed map[string]bool, maxSize int64) (Saved, error) {
	if name == "" {
		return Saved{}, ErrEmpty
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowed[ext] {
		return Saved{}, fmt.Errorf("%w: %s", ErrExtension, ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return Saved{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Saved{}, ErrEmpty
	}
	if int64(len(data)) > maxSize {
		return Saved{}, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, maxSize)
	}

	stored := s.now().Format("20060102_150405") + "_" + sanitizeFilename(name)
	dir := filepath.Join(s.root, "uploads", sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Join(dir, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Saved{}, fmt.Errorf("write upload: %w", err)
	}

	s.log.Info("upload stored", map[string]any{"file": stored, "bytes": len(data)})
	return Saved{
		Filename:     stored,
		Path:         path,
		RelativePath: filepath.ToSlash(filepath.Join("uploads", sub, stored)),
	}, nil
}

// Resolve maps a client-supplied relative path ("uploads/logos/x.png") back
// to an absolute file path, refusing anything that escapes the uploads tree.
func (s *Saver) Resolve(rel string) (string, error) {
	base := filepath.Join(s.root, "uploads")
	path := filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(rel, "uploads/")))
	clean := filepath.Clean(path)
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	if _, err := os.Stat(clean); err != nil {
		return "", fmt.Errorf("upload not found: %w", err)
	}
	return clean, nil
}

// sanitizeFilename strips any directory component and flattens characters
// outside [A-Za-z0-9._-] to underscores.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "fichier"
	}
	return out
}
