// Package rules loads and validates the versioned YAML rulesets that drive
// candidate generation, resolution, and confidence scoring. Every ruleset
// carries the SHA256 of its file bytes so downstream artifacts can record
// exactly which configuration produced them.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Source identifies an evidence provider by machine id and display label.
type Source struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

func readRuleset(path string, out any) (sha string, err error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "rules: read %s", path)
	}
	if err := yaml.Unmarshal(blob, out); err != nil {
		return "", eris.Wrapf(err, "rules: parse %s", path)
	}
	digest := sha256.Sum256(blob)
	return hex.EncodeToString(digest[:]), nil
}

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func logLoaded(kind, version, sha string) {
	zap.L().Info("ruleset loaded",
		zap.String("kind", kind),
		zap.String("version", version),
		zap.String("sha256", sha),
	)
}
