package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hochat/internal/legacy"
	"hochat/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Driver: "sqlite", DSN: ":memory:", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func conv(id, model string, ts, lm int64, msgs ...string) types.Conversation {
	c := types.Conversation{ID: id, Title: "title " + id, Model: model, Timestamp: ts, LastModified: lm, Messages: []types.Message{}}
	for i, m := range msgs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		c.Messages = append(c.Messages, types.Message{Role: role, Content: m})
	}
	return c
}

func mustSave(t *testing.T, s *Store, cs ...types.Conversation) {
	t.Helper()
	for _, c := range cs {
		if err := s.Save(context.Background(), c); err != nil {
			t.Fatalf("save %s: %v", c.ID, err)
		}
	}
}

func ids(cs []types.Conversation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSaveUpsertKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustSave(t, s, conv("c1", "A", 1000, 1000, "hi"))
	mustSave(t, s, conv("c1", "A", 1000, 2000, "hi", "hello!"))

	got, err := s.Get(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if len(got.Messages) != 2 || got.LastModified != 2000 || got.Timestamp != 1000 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Messages[0].Role != types.RoleUser || got.Messages[1].Content != "hello!" {
		t.Fatalf("messages out of order: %+v", got.Messages)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestSaveRejectsInvalidRecords(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(context.Background(), conv("", "A", 1, 1)); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("empty id: %v", err)
	}
	if err := s.Save(context.Background(), conv("c", "A", 10, 5)); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("lastModified < timestamp: %v", err)
	}
	c := conv("c", "A", 1, 1, "hi")
	c.Messages[0].Role = "system"
	if err := s.Save(context.Background(), c); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("unknown role: %v", err)
	}
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Fatalf("count = %d", n)
	}
}

func TestGetAbsentAndDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	got, err := s.Get(ctx, "nope")
	if err != nil || got != nil {
		t.Fatalf("get absent = %v %v", got, err)
	}
	mustSave(t, s, conv("c1", "A", 1, 1, "x"))
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, "c1"); err != nil {
			t.Fatalf("delete #%d: %v", i, err)
		}
	}
	if got, _ := s.Get(ctx, "c1"); got != nil {
		t.Fatalf("record survived delete")
	}
}

func TestImagesAndTagsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := conv("c1", "A", 1, 1, "look")
	c.Messages[0].Images = []string{"data:image/png;base64,AAA"}
	c.Tags = []string{"work", "draft", "work", ""}
	mustSave(t, s, c)
	got, _ := s.Get(ctx, "c1")
	if !reflect.DeepEqual(got.Messages[0].Images, c.Messages[0].Images) {
		t.Fatalf("images = %v", got.Messages[0].Images)
	}
	if !reflect.DeepEqual(got.Tags, []string{"work", "draft"}) {
		t.Fatalf("tags = %v", got.Tags)
	}
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	a := conv("a", "M1", 100, 100, "Bonjour le monde")
	b := conv("b", "M2", 150, 200, "how are you", "FINE thanks")
	b.Tags = []string{"Travel"}
	c := conv("c", "M1", 50, 300, "nothing here")
	c.Title = "Ärger mit dem Drucker"
	d := conv("d", "M1", 300, 300, "tie")
	mustSave(t, s, a, b, c, d)
}

func TestListAllOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)
	all, err := s.ListAll(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := ids(all); fmt.Sprint(got) != "[d c b a]" {
		t.Fatalf("order = %v", got)
	}
	two, _ := s.ListAll(ctx, 2)
	if got := ids(two); fmt.Sprint(got) != "[d c]" {
		t.Fatalf("limited = %v", got)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	all, _ := s.ListAll(ctx, 0)
	for _, q := range []string{"", "   "} {
		got, err := s.Search(ctx, q)
		if err != nil || !reflect.DeepEqual(got, all) {
			t.Fatalf("Search(%q) should equal ListAll: %v %v", q, ids(got), err)
		}
	}
	cases := map[string]string{
		"fine":    "[b]",
		"travel":  "[b]",
		"BONJOUR": "[a]",
		"ärger":   "[c]",
		"title":   "[d b a]",
		"zzz":     "[]",
	}
	for q, want := range cases {
		got, err := s.Search(ctx, q)
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}
		if fmt.Sprint(ids(got)) != want {
			t.Fatalf("Search(%q) = %v, want %s", q, ids(got), want)
		}
	}
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	byModel, _ := s.FilterByModel(ctx, "M1")
	if fmt.Sprint(ids(byModel)) != "[d c a]" {
		t.Fatalf("by model = %v", ids(byModel))
	}
	byTag, _ := s.FilterByTag(ctx, "Travel")
	if fmt.Sprint(ids(byTag)) != "[b]" {
		t.Fatalf("by tag = %v", ids(byTag))
	}
	if got, _ := s.FilterByTag(ctx, "travel"); len(got) != 0 {
		t.Fatalf("tag filter is exact, got %v", ids(got))
	}
	// inclusive on both ends
	byDate, _ := s.FilterByDateRange(ctx, 100, 200)
	if fmt.Sprint(ids(byDate)) != "[b a]" {
		t.Fatalf("by date = %v", ids(byDate))
	}
	if got, _ := s.FilterByDateRange(ctx, 300, 100); len(got) != 0 {
		t.Fatalf("inverted range = %v", ids(got))
	}
}

func TestPagesReconstructListAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 7; i++ {
		mustSave(t, s, conv(fmt.Sprintf("c%d", i), "M", 10, int64(10+i%3), "m"))
	}
	all, _ := s.ListAll(ctx, 0)
	for size := 1; size <= 8; size++ {
		var joined []string
		for page := 1; ; page++ {
			got, err := s.Page(ctx, page, size)
			if err != nil {
				t.Fatalf("page %d/%d: %v", page, size, err)
			}
			if len(got) == 0 {
				break
			}
			joined = append(joined, ids(got)...)
		}
		if !reflect.DeepEqual(joined, ids(all)) {
			t.Fatalf("size %d: pages %v != list %v", size, joined, ids(all))
		}
	}
	if _, err := s.Page(ctx, 0, 10); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("page 0: %v", err)
	}
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	empty, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if empty.Total != 0 || empty.TotalMessages != 0 || empty.OldestDate != nil || empty.NewestDate != nil ||
		empty.AverageMessagesPerConversation != 0 || empty.ByModel == nil || len(empty.ByModel) != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
	b, _ := json.Marshal(empty)
	if string(b) != `{"total":0,"totalMessages":0,"byModel":{},"oldestDate":null,"newestDate":null,"averageMessagesPerConversation":0}` {
		t.Fatalf("empty stats json = %s", b)
	}

	seed(t, s)
	st, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 4 || st.TotalMessages != 5 {
		t.Fatalf("totals = %+v", st)
	}
	if !reflect.DeepEqual(st.ByModel, map[string]int{"M1": 3, "M2": 1}) {
		t.Fatalf("byModel = %v", st.ByModel)
	}
	if *st.OldestDate != 50 || *st.NewestDate != 300 {
		t.Fatalf("dates = %d %d", *st.OldestDate, *st.NewestDate)
	}
	// 5 / 4 = 1.25 -> 1.3
	if st.AverageMessagesPerConversation != 1.3 {
		t.Fatalf("average = %v", st.AverageMessagesPerConversation)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	seed(t, s)
	if err := s.SaveSetting(ctx, SettingSelectedModel, "M1"); err != nil {
		t.Fatal(err)
	}
	before, _ := s.ListAll(ctx, 0)

	doc, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if doc.Version != 1 || doc.Source != "Ho my AI!" || doc.ExportDate != "2024-05-01T12:00:00.000Z" {
		t.Fatalf("export header = %+v", doc)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	// extra data that a non-merge import must wipe
	mustSave(t, s, conv("zz", "M9", 1, 999, "gone"))
	if err := s.SaveSetting(ctx, "stale", true); err != nil {
		t.Fatal(err)
	}

	sum, err := s.ImportJSON(ctx, raw, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.Conversations != 4 || sum.Settings != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	after, _ := s.ListAll(ctx, 0)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("round trip mismatch:\nbefore %+v\nafter  %+v", before, after)
	}
	var model string
	if ok, err := s.GetSetting(ctx, SettingSelectedModel, &model); !ok || err != nil || model != "M1" {
		t.Fatalf("selected model setting = %q %v %v", model, ok, err)
	}
	if _, ok, _ := s.GetSettingRaw(ctx, "stale"); ok {
		t.Fatalf("stale setting survived non-merge import")
	}
}

func TestImportExtraSettingsShareTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustSave(t, s, conv("keep", "M", 1, 1, "x"))
	doc := &types.ExportDocument{
		Conversations: []types.Conversation{conv("new", "M", 2, 2, "y")},
		Settings:      map[string]json.RawMessage{SettingSelectedModel: json.RawMessage(`"from-doc"`)},
	}

	_, err := s.ImportAll(ctx, doc, false, Setting{Key: SettingCustomModels, Value: []string{}}, Setting{Key: "", Value: 1})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if got, _ := s.ListAll(ctx, 0); len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("failed import changed records: %+v", got)
	}
	if _, ok, _ := s.GetSettingRaw(ctx, SettingCustomModels); ok {
		t.Fatalf("setting written by a failed import")
	}

	if _, err := s.ImportAll(ctx, doc, false, Setting{Key: SettingSelectedModel, Value: "live"}); err != nil {
		t.Fatalf("import: %v", err)
	}
	var model string
	if ok, _ := s.GetSetting(ctx, SettingSelectedModel, &model); !ok || model != "live" {
		t.Fatalf("selected model = %q", model)
	}
}

func TestImportMergeKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustSave(t, s, conv("keep", "M", 1, 1, "x"))
	doc := &types.ExportDocument{Conversations: []types.Conversation{conv("new", "M", 2, 2, "y")}}
	if _, err := s.ImportAll(ctx, doc, true); err != nil {
		t.Fatalf("merge import: %v", err)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Fatalf("count = %d", n)
	}
}

func TestImportMalformedLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)
	before, _ := s.ListAll(ctx, 0)

	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`[1,2,3]`),
		[]byte(`{"conversations": "nope"}`),
		[]byte(`{"conversations": [{"id":"ok","timestamp":1,"lastModified":1}, {"id":"","timestamp":1}]}`),
		[]byte(`{"conversations": [{"id":"sys","messages":[{"role":"system","content":"x"}],"timestamp":1,"lastModified":1}]}`),
	}
	for _, raw := range bad {
		if _, err := s.ImportJSON(ctx, raw, false); !errors.Is(err, ErrImportFormat) {
			t.Fatalf("ImportJSON(%s) err = %v", raw, err)
		}
		after, _ := s.ListAll(ctx, 0)
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("store changed after failed import of %s", raw)
		}
	}
}

func TestPruneOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.UnixMilli(10 * dayMillis)
	s.now = func() time.Time { return now }
	mustSave(t, s,
		conv("past", "M", 0, now.UnixMilli()-1, "x"),
		conv("now", "M", 0, now.UnixMilli(), "x"),
		conv("old", "M", 0, now.UnixMilli()-3*dayMillis, "x"),
	)
	n, err := s.PruneOlderThan(ctx, 2)
	if err != nil || n != 1 {
		t.Fatalf("prune(2) = %d %v", n, err)
	}
	n, err = s.PruneOlderThan(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("prune(0) = %d %v", n, err)
	}
	left, _ := s.ListAll(ctx, 0)
	if fmt.Sprint(ids(left)) != "[now]" {
		t.Fatalf("left = %v", ids(left))
	}
	if _, err := s.PruneOlderThan(ctx, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative: %v", err)
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)
	_ = s.SaveSetting(ctx, "k", 1)
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("count = %d", n)
	}
	if _, ok, _ := s.GetSettingRaw(ctx, "k"); ok {
		t.Fatalf("settings not cleared")
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	models := []types.Model{{ID: "x", Name: "X", Custom: true}}
	if err := s.SaveSetting(ctx, SettingCustomModels, models); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSetting(ctx, SettingCustomModels, append(models, types.Model{ID: "y"})); err != nil {
		t.Fatal(err)
	}
	var got []types.Model
	if ok, err := s.GetSetting(ctx, SettingCustomModels, &got); !ok || err != nil || len(got) != 2 {
		t.Fatalf("get = %v %v %v", got, ok, err)
	}
	if err := s.DeleteSetting(ctx, SettingCustomModels); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.GetSetting(ctx, SettingCustomModels, &got); ok {
		t.Fatalf("setting survived delete")
	}
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "ls.db")
	src, err := legacy.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	history := `[{"id":"conv_1","title":"Old","messages":[{"role":"user","content":"hey"}],"model":"M","timestamp":5},{"title":"no id"}]`
	if err := src.Set(legacy.KeyConversationHistory, []byte(history)); err != nil {
		t.Fatal(err)
	}
	if err := src.Set(legacy.KeyCustomModels, []byte(`[{"id":"my-model","name":"Mine"}]`)); err != nil {
		t.Fatal(err)
	}

	sum := s.MigrateLegacy(ctx, src)
	if sum.Conversations != 1 || sum.CustomModels != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	got, _ := s.Get(ctx, "conv_1")
	if got == nil || got.LastModified != 5 || len(got.Messages) != 1 {
		t.Fatalf("migrated record = %+v", got)
	}
	var models []types.Model
	if ok, _ := s.GetSetting(ctx, SettingCustomModels, &models); !ok || !models[0].Custom {
		t.Fatalf("custom models = %+v", models)
	}
	// the legacy source is kept as a backup
	if _, ok, _ := src.Get(legacy.KeyConversationHistory); !ok {
		t.Fatalf("legacy key removed")
	}
}

type brokenLegacy struct{}

func (brokenLegacy) Get(key string) ([]byte, bool, error) {
	if key == legacy.KeyConversationHistory {
		return []byte(`{"not":"an array"}`), true, nil
	}
	return nil, false, errors.New("disk on fire")
}

func TestMigrateLegacyNeverFails(t *testing.T) {
	s := newTestStore(t)
	sum := s.MigrateLegacy(context.Background(), brokenLegacy{})
	if sum.Conversations != 0 || sum.CustomModels != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum := s.MigrateLegacy(context.Background(), nil); sum != (types.MigrationSummary{}) {
		t.Fatalf("nil source summary = %+v", sum)
	}
}
