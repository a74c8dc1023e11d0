// Package jsonio reads and writes the pipeline's JSON artifacts: array JSON,
// JSON-lines, and gzipped variants of both. Writes are deterministic:
// two-space indentation, a trailing newline, and struct field order preserved.
package jsonio

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadJSON decodes a whole JSON document from path into out, transparently
// decompressing .gz files.
func ReadJSON(path string, out any) error {
	reader, closer, err := openMaybeGzip(path)
	if err != nil {
		return err
	}
	defer closer()

	dec := json.NewDecoder(reader)
	if err := dec.Decode(out); err != nil {
		return eris.Wrapf(err, "jsonio: decode %s", path)
	}
	return nil
}

// ReadRecords loads either a JSON array or JSON-lines file of objects,
// transparently decompressing .gz files. The distinction is sniffed from the
// first non-space byte.
func ReadRecords(path string) ([]json.RawMessage, error) {
	reader, closer, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, eris.Wrapf(err, "jsonio: read %s", path)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, eris.Wrapf(err, "jsonio: parse array %s", path)
		}
		return records, nil
	}

	var records []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !json.Valid([]byte(text)) {
			return nil, eris.Errorf("jsonio: invalid JSON at %s:%d", path, line)
		}
		records = append(records, json.RawMessage(text))
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "jsonio: scan %s", path)
	}
	return records, nil
}

// WriteJSON marshals payload with two-space indentation and writes it to
// path, creating parent directories as needed. Returns the SHA256 of the
// written bytes.
func WriteJSON(path string, payload any) (string, error) {
	data, err := MarshalDeterministic(payload)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "jsonio: mkdir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "jsonio: write %s", path)
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:]), nil
}

// MarshalDeterministic renders payload as indented JSON with a trailing
// newline. Map keys marshal in sorted order, so equal inputs always produce
// byte-identical output.
func MarshalDeterministic(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, eris.Wrap(err, "jsonio: marshal")
	}
	return buf.Bytes(), nil
}

// CanonicalSHA256 hashes the compact JSON rendering of payload.
func CanonicalSHA256(payload any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", eris.Wrap(err, "jsonio: canonical marshal")
	}
	digest := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(digest[:]), nil
}

func openMaybeGzip(path string) (io.Reader, func(), error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "jsonio: open %s", path)
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, nil, eris.Wrapf(err, "jsonio: gzip open %s", path)
		}
		return gz, func() { gz.Close(); file.Close() }, nil
	}
	return file, func() { file.Close() }, nil
}
