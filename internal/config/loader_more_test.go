package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMalformed(t *testing.T) {
	cases := []struct {
		name, file, body string
	}{
		{"yaml syntax", "bad.yaml", "cache: [unterminated\n"},
		{"yaml type", "type.yml", "generation:\n  max_tokens: lots\n"},
		{"json syntax", "bad.json", `{"database": {"driver": }`},
		{"json type", "type.json", `{"cors": {"origins": "*"}}`},
		{"toml syntax", "bad.toml", "[engine\nkind=\"openai\"\n"},
		{"toml type", "type.toml", "retention_days=\"forever\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeTempFile(t, t.TempDir(), tc.file, tc.body)
			_, err := Load(p)
			if err == nil {
				t.Fatalf("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.file) {
				t.Fatalf("error does not name the file: %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
