// Package render produces the paginated PDF reports.
package render

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultServiceName is used when the caller supplies no service name.
const DefaultServiceName = "DRAAF SRFD Occitanie"

// Profile carries the per-export personalization: heading identity, signer
// identity, and optional signature/logo image references. Image paths may
// be relative to the application root.
type Profile struct {
	ServiceName     string
	SignerFirstname string
	SignerName      string
	SignerTitle     string
	SignaturePath   string
	LogoPath        string
}

// HasSignerInfo reports whether any signer field is set.
func (p Profile) HasSignerInfo() bool {
	return p.SignerFirstname != "" || p.SignerName != "" || p.SignerTitle != ""
}

// SignerFullName joins first and last name, tolerating either being empty.
func (p Profile) SignerFullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.SignerFirstname) + " " + strings.TrimSpace(p.SignerName))
}

// resolvePath makes ref absolute against root. Empty refs stay empty.
func resolvePath(root, ref string) string {
	if ref == "" {
		return ""
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(root, ref)
}

// fileExists is a plain existence probe; unreadable paths count as absent.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Signature resolves the signature image against root. ok is false when no
// usable file exists; the caller degrades to "no signature".
func (p Profile) Signature(root string) (string, bool) {
	path := resolvePath(root, p.SignaturePath)
	if !fileExists(path) {
		return "", false
	}
	return path, true
}

// EffectiveLogo resolves the custom logo against root, falling back to the
// default asset. ok is false only when neither resolves.
func (p Profile) EffectiveLogo(root, defaultLogo string) (string, bool) {
	if path := resolvePath(root, p.LogoPath); fileExists(path) {
		return path, true
	}
	if path := resolvePath(root, defaultLogo); fileExists(path) {
		return path, true
	}
	return "", false
}
