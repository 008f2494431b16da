package httpapi

import (
	"context"

	"hochat/internal/manager"
	"hochat/pkg/types"
)

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

// mockService records the calls the handlers make.
type mockService struct {
	ready  bool
	status types.StatusResponse
	snaps  []manager.Snapshot

	models   []types.Model
	selected string
	removed  bool
	addErr   error

	loadedModel string
	loadErr     error
	canceled    bool

	deltas  []string
	sendErr error
	sent    string

	history    []types.Conversation
	lastQuery  manager.HistoryQuery
	conv       *types.Conversation
	convErr    error
	renamedTo  string
	saveTitle  string
	deletedID  string
	stats      types.Statistics
	exported   []byte
	imported   []byte
	mergeFlag  bool
	importErr  error
	pruneDays  int
	pruneErr   error
	cache      types.CacheResponse
	clearedAll bool
	token      string
}

func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) Status() types.StatusResponse { return m.status }

func (m *mockService) Subscribe() (<-chan manager.Snapshot, func()) {
	ch := make(chan manager.Snapshot, len(m.snaps))
	for _, s := range m.snaps {
		ch <- s
	}
	close(ch)
	return ch, func() {}
}

func (m *mockService) Models() ([]types.Model, string) { return m.models, m.selected }

func (m *mockService) AddCustomModel(_ context.Context, model types.Model) (types.Model, error) {
	if m.addErr != nil {
		return types.Model{}, m.addErr
	}
	model.Custom = true
	return model, nil
}

func (m *mockService) RemoveCustomModel(_ context.Context, id string) (bool, error) {
	return m.removed, nil
}

func (m *mockService) SetAccessToken(_ context.Context, token string) error {
	m.token = token
	return nil
}

func (m *mockService) StartLoad(modelID string) error {
	m.loadedModel = modelID
	return m.loadErr
}

func (m *mockService) CancelLoad() bool { return m.canceled }

func (m *mockService) SendMessage(_ context.Context, content string, _ []string, onDelta func(string)) (types.Message, error) {
	m.sent = content
	var reply string
	for _, d := range m.deltas {
		reply += d
		onDelta(d)
	}
	return types.Message{Role: types.RoleAssistant, Content: reply}, m.sendErr
}

func (m *mockService) StartNew(context.Context) error { return nil }

func (m *mockService) SaveCurrent(_ context.Context, title string) (*types.Conversation, error) {
	m.saveTitle = title
	return m.conv, nil
}

func (m *mockService) History(_ context.Context, q manager.HistoryQuery) ([]types.Conversation, error) {
	m.lastQuery = q
	return m.history, nil
}

func (m *mockService) Conversation(_ context.Context, id string) (*types.Conversation, error) {
	return m.conv, m.convErr
}

func (m *mockService) OpenConversation(_ context.Context, id string) (*types.Conversation, error) {
	return m.conv, m.convErr
}

func (m *mockService) RenameConversation(_ context.Context, id, title string) (*types.Conversation, error) {
	m.renamedTo = title
	if m.convErr != nil {
		return nil, m.convErr
	}
	c := *m.conv
	c.Title = title
	return &c, nil
}

func (m *mockService) DeleteConversation(_ context.Context, id string) error {
	m.deletedID = id
	return m.convErr
}

func (m *mockService) Statistics(context.Context) (types.Statistics, error) { return m.stats, nil }
func (m *mockService) ExportHistory(context.Context) ([]byte, error)        { return m.exported, nil }

func (m *mockService) ImportHistory(_ context.Context, raw []byte, merge bool) (types.ImportSummary, error) {
	m.imported, m.mergeFlag = raw, merge
	if m.importErr != nil {
		return types.ImportSummary{}, m.importErr
	}
	return types.ImportSummary{Conversations: 1}, nil
}

func (m *mockService) Prune(_ context.Context, days int) (int, error) {
	m.pruneDays = days
	return 3, m.pruneErr
}

func (m *mockService) CacheInfo(context.Context) (types.CacheResponse, error) { return m.cache, nil }

func (m *mockService) ClearCache(_ context.Context, all bool) (int, error) {
	m.clearedAll = all
	return 2, nil
}
