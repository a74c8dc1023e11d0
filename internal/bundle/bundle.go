// Package bundle manages capture bundle manifests: checksums, HMAC
// signatures, freshness validation, and the atomic latest-pointer used to
// promote a completed bundle.
package bundle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
)

// SchemaVersion of manifest.json and latest.json documents.
const SchemaVersion = 1

// ManifestName is the manifest file name inside a bundle directory.
const ManifestName = "manifest.json"

// Verification failure codes.
const (
	CodeManifestInvalid      = "E_MANIFEST_INVALID"
	CodeBundleExpired        = "E_BUNDLE_EXPIRED"
	CodeFileMissing          = "E_FILE_MISSING"
	CodeChecksumMismatch     = "E_CHECKSUM_MISMATCH"
	CodeSignatureKeyRequired = "E_SIGNATURE_KEY_REQUIRED"
	CodeSignatureMismatch    = "E_SIGNATURE_MISMATCH"
)

// VerificationError reports why a manifest failed validation.
type VerificationError struct {
	Code    string
	Message string
}

func (e *VerificationError) Error() string {
	return "bundle: " + e.Code + ": " + e.Message
}

func verificationErr(code, message string) error {
	return &VerificationError{Code: code, Message: message}
}

// FileEntry records one bundle file's path, size, and content hash.
type FileEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// ProviderStats summarizes one provider's capture activity for the manifest.
type ProviderStats struct {
	Name       string  `json:"name"`
	Requests   int     `json:"requests"`
	Successes  int     `json:"successes"`
	RateLimits int     `json:"rate_limits"`
	Errors     int     `json:"errors"`
	DedupRatio float64 `json:"dedup_ratio"`
}

// Manifest describes one immutable capture bundle.
type Manifest struct {
	SchemaVersion int             `json:"schema_version"`
	BundleID      string          `json:"bundle_id"`
	CapturedAt    string          `json:"captured_at"`
	ExpiryDays    int             `json:"expiry_days"`
	ToolVersion   string          `json:"tool_version"`
	Providers     []ProviderStats `json:"providers"`
	Files         []FileEntry     `json:"files"`
	Signature     string          `json:"signature,omitempty"`
}

// SHA256File hashes a file's contents.
func SHA256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "bundle: open %s", path)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", eris.Wrapf(err, "bundle: hash %s", path)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// GatherFiles walks the bundle directory and returns checksummed entries for
// every file except the manifest itself, sorted by relative path.
func GatherFiles(dir string) ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		checksum, err := SHA256File(path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{Path: rel, Size: info.Size(), Checksum: checksum})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "bundle: walk %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Sign computes the HMAC-SHA256 signature over the manifest's canonical
// JSON (sorted keys, compact separators, signature field excluded). Returns
// empty when no key is configured.
func Sign(m Manifest, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	payload, err := canonicalPayload(m)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalPayload renders the manifest with sorted keys and no signature.
// Round-tripping through a map gets key-sorted output from encoding/json.
func canonicalPayload(m Manifest) ([]byte, error) {
	m.Signature = ""
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "bundle: marshal manifest")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "bundle: canonicalize manifest")
	}
	delete(doc, "signature")
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "bundle: canonical marshal")
	}
	return payload, nil
}

// WriteManifest signs and writes the manifest into the bundle directory.
func WriteManifest(dir string, m Manifest, key string) error {
	signature, err := Sign(m, key)
	if err != nil {
		return err
	}
	m.Signature = signature
	if _, err := jsonio.WriteJSON(filepath.Join(dir, ManifestName), m); err != nil {
		return err
	}
	return nil
}

// LoadManifest reads a manifest document.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := jsonio.ReadJSON(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateFiles merges new file checksums into an existing manifest and
// re-signs it. Used by the feedback stage's manifest-rewrite mode.
func UpdateFiles(manifestPath string, files map[string]string, key string) error {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	for _, path := range sortedKeyList(files) {
		checksum := files[path]
		updated := false
		for i := range m.Files {
			if m.Files[i].Path == path {
				m.Files[i].Checksum = checksum
				updated = true
				break
			}
		}
		if !updated {
			size := int64(0)
			if info, err := os.Stat(filepath.Join(filepath.Dir(manifestPath), filepath.FromSlash(path))); err == nil {
				size = info.Size()
			}
			m.Files = append(m.Files, FileEntry{Path: path, Size: size, Checksum: checksum})
		}
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })

	return WriteManifest(filepath.Dir(manifestPath), *m, key)
}

func sortedKeyList(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Verify validates a manifest's freshness, file checksums, and signature.
// A missing signature skips signature verification; a present signature
// without a key is an error.
func Verify(manifestPath, key string, now time.Time) error {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(manifestPath)

	if err := verifyFreshness(m, now); err != nil {
		return err
	}
	if err := verifyChecksums(dir, m); err != nil {
		return err
	}
	return verifySignature(m, key)
}

func verifyFreshness(m *Manifest, now time.Time) error {
	if m.CapturedAt == "" || m.ExpiryDays <= 0 {
		return verificationErr(CodeManifestInvalid, "manifest missing captured_at or expiry_days")
	}
	capturedAt, err := time.Parse(time.RFC3339, m.CapturedAt)
	if err != nil {
		return verificationErr(CodeManifestInvalid, "unparseable captured_at: "+m.CapturedAt)
	}
	age := now.Sub(capturedAt)
	if age > time.Duration(m.ExpiryDays)*24*time.Hour {
		return verificationErr(CodeBundleExpired, "bundle older than expiry window")
	}
	return nil
}

func verifyChecksums(dir string, m *Manifest) error {
	if len(m.Files) == 0 {
		return verificationErr(CodeManifestInvalid, "manifest has no files section")
	}
	for _, entry := range m.Files {
		if entry.Path == "" || entry.Checksum == "" {
			return verificationErr(CodeManifestInvalid, "file entry missing path or checksum")
		}
		path := filepath.Join(dir, filepath.FromSlash(entry.Path))
		if _, err := os.Stat(path); err != nil {
			return verificationErr(CodeFileMissing, "missing file referenced in manifest: "+entry.Path)
		}
		actual, err := SHA256File(path)
		if err != nil {
			return err
		}
		if actual != entry.Checksum {
			return verificationErr(CodeChecksumMismatch, "checksum mismatch for "+entry.Path)
		}
	}
	return nil
}

func verifySignature(m *Manifest, key string) error {
	if m.Signature == "" {
		return nil
	}
	if key == "" {
		return verificationErr(CodeSignatureKeyRequired, "signature present but no signing key configured")
	}
	expected, err := Sign(*m, key)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(m.Signature)) {
		return verificationErr(CodeSignatureMismatch, "manifest signature mismatch")
	}
	return nil
}
