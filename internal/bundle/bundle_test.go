package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundleFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testBundle(t *testing.T) (string, Manifest) {
	t.Helper()
	dir := t.TempDir()
	writeBundleFile(t, dir, "raw/seed.json", `[{"slug":"acme-ai"}]`)
	writeBundleFile(t, dir, "raw/youcom.jsonl", `{"slug":"acme-ai","data":{},"timestamp":"2026-02-01T12:00:00Z"}`+"\n")
	writeBundleFile(t, dir, "raw/tavily.jsonl", `{"slug":"acme-ai","data":{},"timestamp":"2026-02-01T12:00:01Z"}`+"\n")

	files, err := GatherFiles(dir)
	require.NoError(t, err)

	return dir, Manifest{
		SchemaVersion: SchemaVersion,
		BundleID:      "bundle-20260201T120000Z",
		CapturedAt:    "2026-02-01T12:00:00Z",
		ExpiryDays:    30,
		ToolVersion:   "1.0.0",
		Providers: []ProviderStats{
			{Name: "youcom", Requests: 1, Successes: 1, DedupRatio: 1.0},
			{Name: "tavily", Requests: 1, Successes: 1, DedupRatio: 1.0},
		},
		Files: files,
	}
}

func TestGatherFilesSortedAndExcludesManifest(t *testing.T) {
	dir, _ := testBundle(t)
	writeBundleFile(t, dir, ManifestName, `{}`)

	files, err := GatherFiles(dir)
	require.NoError(t, err)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"raw/seed.json", "raw/tavily.jsonl", "raw/youcom.jsonl"}, paths)
	for _, f := range files {
		assert.Len(t, f.Checksum, 64)
		assert.Greater(t, f.Size, int64(0))
	}
}

func TestSignDeterministicAndKeyDependent(t *testing.T) {
	_, m := testBundle(t)

	sig1, err := Sign(m, "secret")
	require.NoError(t, err)
	sig2, err := Sign(m, "secret")
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64)

	other, err := Sign(m, "other-key")
	require.NoError(t, err)
	assert.NotEqual(t, sig1, other)

	unsigned, err := Sign(m, "")
	require.NoError(t, err)
	assert.Empty(t, unsigned)
}

func TestSignIgnoresExistingSignature(t *testing.T) {
	_, m := testBundle(t)
	sig1, err := Sign(m, "secret")
	require.NoError(t, err)

	m.Signature = sig1
	sig2, err := Sign(m, "secret")
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
}

func TestWriteAndVerifyRoundtrip(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, "secret"))

	manifestPath := filepath.Join(dir, ManifestName)
	loaded, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded.Signature)

	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, Verify(manifestPath, "secret", now))
}

func TestVerifyDetectsTamperedFile(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))

	writeBundleFile(t, dir, "raw/seed.json", `[{"slug":"tampered"}]`)

	err := Verify(filepath.Join(dir, ManifestName), "", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeChecksumMismatch, verr.Code)
}

func TestVerifyDetectsMissingFile(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))

	require.NoError(t, os.Remove(filepath.Join(dir, "raw", "tavily.jsonl")))

	err := Verify(filepath.Join(dir, ManifestName), "", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeFileMissing, verr.Code)
}

func TestVerifyExpiredBundle(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))

	err := Verify(filepath.Join(dir, ManifestName), "", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeBundleExpired, verr.Code)
}

func TestVerifySignatureMismatch(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, "secret"))

	err := Verify(filepath.Join(dir, ManifestName), "wrong-key", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeSignatureMismatch, verr.Code)
}

func TestVerifySignedBundleRequiresKey(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, "secret"))

	err := Verify(filepath.Join(dir, ManifestName), "", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeSignatureKeyRequired, verr.Code)
}

func TestVerifyRejectsInvalidManifest(t *testing.T) {
	dir, m := testBundle(t)
	m.CapturedAt = ""
	require.NoError(t, WriteManifest(dir, m, ""))

	err := Verify(filepath.Join(dir, ManifestName), "", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeManifestInvalid, verr.Code)
}

func TestUpdateFilesRewritesChecksumAndResigns(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, "secret"))
	manifestPath := filepath.Join(dir, ManifestName)

	writeBundleFile(t, dir, "raw/seed.json", `[{"slug":"acme-ai","feedback":"approve"}]`)
	checksum, err := SHA256File(filepath.Join(dir, "raw", "seed.json"))
	require.NoError(t, err)

	require.NoError(t, UpdateFiles(manifestPath, map[string]string{"raw/seed.json": checksum}, "secret"))

	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, Verify(manifestPath, "secret", now))
}

func TestUpdateFilesAddsNewEntry(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))
	manifestPath := filepath.Join(dir, ManifestName)

	writeBundleFile(t, dir, "dlq.jsonl", `{"slug":"acme-ai","provider":"youcom"}`+"\n")
	checksum, err := SHA256File(filepath.Join(dir, "dlq.jsonl"))
	require.NoError(t, err)

	require.NoError(t, UpdateFiles(manifestPath, map[string]string{"dlq.jsonl": checksum}, ""))

	loaded, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.Len(t, loaded.Files, 4)
	assert.Equal(t, "dlq.jsonl", loaded.Files[0].Path)
}

func TestPromoteWritesLatestPointer(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))

	latestPath := filepath.Join(t.TempDir(), "latest.json")
	now := time.Date(2026, 2, 1, 13, 0, 0, 0, time.UTC)
	payload, err := Promote(dir, latestPath, false, now)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, payload.SchemaVersion)
	assert.Equal(t, "bundle-20260201T120000Z", payload.BundleID)
	assert.Equal(t, "2026-02-01T13:00:00Z", payload.GeneratedAt)
	assert.Len(t, payload.Files, 3)

	loaded, err := LoadManifest(filepath.Join(dir, ManifestName))
	require.NoError(t, err)
	assert.Equal(t, loaded.BundleID, payload.BundleID)

	written, err := os.ReadFile(latestPath)
	require.NoError(t, err)
	assert.Contains(t, string(written), `"bundle_id": "bundle-20260201T120000Z"`)
	_, err = os.Stat(latestPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteRejectsIncompleteBundle(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))
	require.NoError(t, os.Remove(filepath.Join(dir, "raw", "youcom.jsonl")))

	_, err := Promote(dir, filepath.Join(t.TempDir(), "latest.json"), false, time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw/youcom.jsonl")
}

func TestPromoteDryRunSkipsWrite(t *testing.T) {
	dir, m := testBundle(t)
	require.NoError(t, WriteManifest(dir, m, ""))

	latestPath := filepath.Join(t.TempDir(), "latest.json")
	payload, err := Promote(dir, latestPath, true, time.Now().UTC())
	require.NoError(t, err)
	assert.NotNil(t, payload)

	_, err = os.Stat(latestPath)
	assert.True(t, os.IsNotExist(err))
}
