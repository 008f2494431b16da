package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"hochat/internal/legacy"
	"hochat/pkg/types"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hochat.yaml")
	body := "data_dir: " + filepath.Join(dir, "data") + "\ncache:\n  backend: none\nlog_level: off\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("hochat %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestVersion(t *testing.T) {
	if out := run(t, "--config", writeConfig(t), "version"); !strings.Contains(out, "hochat dev") {
		t.Fatalf("out=%q", out)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "version"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "database.driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestHistoryCommands(t *testing.T) {
	cfg := writeConfig(t)
	doc := types.ExportDocument{
		Conversations: []types.Conversation{{
			ID:           "conv_1700000000000_abcdefghi",
			Title:        "Bonjour le monde",
			Messages:     []types.Message{{Role: types.RoleUser, Content: "salut"}, {Role: types.RoleAssistant, Content: "bonjour"}},
			Model:        "m1",
			Timestamp:    1700000000000,
			LastModified: 1700000000000,
		}},
		Settings: map[string]json.RawMessage{},
	}
	raw, _ := json.Marshal(doc)
	docPath := filepath.Join(t.TempDir(), "export.json")
	if err := os.WriteFile(docPath, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	if out := run(t, "--config", cfg, "history", "import", docPath); !strings.Contains(out, "imported 1 conversations") {
		t.Fatalf("import: %q", out)
	}
	if out := run(t, "--config", cfg, "history", "list"); !strings.Contains(out, "conv_1700000000000_abcdefghi") || !strings.Contains(out, "Bonjour le monde") {
		t.Fatalf("list: %q", out)
	}
	if out := run(t, "--config", cfg, "history", "search", "BONJOUR"); !strings.Contains(out, "conv_1700000000000_abcdefghi") {
		t.Fatalf("search: %q", out)
	}
	if out := run(t, "--config", cfg, "history", "search", "nothing-like-this"); strings.Contains(out, "conv_") {
		t.Fatalf("search miss: %q", out)
	}

	var st types.Statistics
	if err := json.Unmarshal([]byte(run(t, "--config", cfg, "history", "stats")), &st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.TotalMessages != 2 || st.ByModel["m1"] != 1 {
		t.Fatalf("stats=%+v", st)
	}

	if out := run(t, "--config", cfg, "history", "export"); !strings.Contains(out, `"source": "Ho my AI!"`) {
		t.Fatalf("export: %q", out)
	}
	if out := run(t, "--config", cfg, "history", "prune", "--days", "1"); !strings.Contains(out, "deleted 1 conversations") {
		t.Fatalf("prune: %q", out)
	}
}

func writeExport(t *testing.T, id string) string {
	t.Helper()
	doc := types.ExportDocument{Conversations: []types.Conversation{{
		ID:           id,
		Title:        id,
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Model:        "m1",
		Timestamp:    1700000000000,
		LastModified: 1700000000000,
	}}}
	raw, _ := json.Marshal(doc)
	path := filepath.Join(t.TempDir(), id+".json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHistoryImportKeepsExistingByDefault(t *testing.T) {
	cfg := writeConfig(t)
	run(t, "--config", cfg, "history", "import", writeExport(t, "conv_keep"))
	run(t, "--config", cfg, "history", "import", writeExport(t, "conv_new"))
	if out := run(t, "--config", cfg, "history", "list"); !strings.Contains(out, "conv_keep") || !strings.Contains(out, "conv_new") {
		t.Fatalf("default import dropped history: %q", out)
	}

	run(t, "--config", cfg, "history", "import", "--merge=false", writeExport(t, "conv_only"))
	out := run(t, "--config", cfg, "history", "list")
	if strings.Contains(out, "conv_keep") || strings.Contains(out, "conv_new") || !strings.Contains(out, "conv_only") {
		t.Fatalf("replace import: %q", out)
	}
}

func TestMigrateCommand(t *testing.T) {
	cfg := writeConfig(t)
	path := filepath.Join(t.TempDir(), "legacy.db")
	src, err := legacy.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	convs := `[{"id":"conv_1","title":"old","messages":[{"role":"user","content":"hi"}],"model":"m","timestamp":5,"lastModified":5}]`
	if err := src.Set(legacy.KeyConversationHistory, []byte(convs)); err != nil {
		t.Fatal(err)
	}
	if err := src.Set("theme", []byte(`"dark"`)); err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	out := run(t, "--config", cfg, "migrate", "--from", path)
	if !strings.Contains(out, "migrated 1 conversations, 0 custom models") {
		t.Fatalf("migrate: %q", out)
	}
	if !strings.Contains(out, `skipping key "theme"`) || strings.Contains(out, `skipping key "conversationHistory"`) {
		t.Fatalf("skipped keys: %q", out)
	}
}

func TestCacheListUnsupported(t *testing.T) {
	if out := run(t, "--config", writeConfig(t), "cache", "ls"); !strings.Contains(out, `"none" is unavailable`) {
		t.Fatalf("out=%q", out)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", "json", &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("out=%q", buf.String())
	}
	if newLogger("off", "json", &buf).GetLevel() != zerolog.Disabled {
		t.Fatal("off should disable logging")
	}
	if newLogger("bogus", "json", &buf).GetLevel() != zerolog.InfoLevel {
		t.Fatal("unknown level should fall back to info")
	}
}
