package manager

import (
	"context"
	"errors"
	"io"
	"strings"

	"hochat/internal/engine"
	"hochat/pkg/types"
)

// SendMessage appends a user message, streams the assistant reply into the
// message list and saves the conversation once the reply is complete.
// onDelta, when set, receives each content delta. Only one generation runs
// at a time. The returned message is the assistant reply, partial when the
// stream failed.
func (m *Manager) SendMessage(ctx context.Context, content string, images []string, onDelta func(string)) (types.Message, error) {
	if strings.TrimSpace(content) == "" && len(images) == 0 {
		return types.Message{}, ErrEmptyMessage
	}
	m.mu.Lock()
	if m.eng == nil {
		m.mu.Unlock()
		return types.Message{}, ErrNoEngine
	}
	if m.generating {
		m.mu.Unlock()
		return types.Message{}, busyError{op: "generation"}
	}
	if len(images) > 0 {
		if model, _ := m.lookupLocked(m.selected); !model.Vision {
			m.mu.Unlock()
			return types.Message{}, ErrImagesUnsupported
		}
	}
	m.messages = append(m.messages, types.Message{Role: types.RoleUser, Content: content, Images: images})
	req := engine.ChatRequest{Temperature: m.temp, MaxTokens: m.maxTok}
	for _, msg := range m.messages {
		req.Messages = append(req.Messages, engine.Message{Role: string(msg.Role), Content: msg.Content, Images: msg.Images})
	}
	idx := len(m.messages)
	m.messages = append(m.messages, types.Message{Role: types.RoleAssistant})
	m.generating = true
	m.err = ""
	m.notice = ""
	eng, gen, model := m.eng, m.sessionGen, m.selected
	m.changedLocked()
	m.mu.Unlock()

	var reply strings.Builder
	err := m.stream(ctx, eng, req, func(delta string) {
		reply.WriteString(delta)
		m.mu.Lock()
		if m.sessionGen == gen {
			m.messages[idx].Content += delta
			m.changedLocked()
		}
		m.mu.Unlock()
		if onDelta != nil {
			onDelta(delta)
		}
	})

	m.mu.Lock()
	m.generating = false
	if err != nil && !errors.Is(err, context.Canceled) {
		m.err = err.Error()
	}
	m.changedLocked()
	m.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
		m.log.Warn().Err(err).Str("model", model).Msg("manager_generation_failed")
	}
	generationsTotal.WithLabelValues(result).Inc()

	if _, serr := m.saveSession(context.WithoutCancel(ctx), gen, ""); serr != nil {
		m.log.Warn().Err(serr).Msg("manager_autosave_failed")
	}
	return types.Message{Role: types.RoleAssistant, Content: reply.String()}, err
}

func (m *Manager) stream(ctx context.Context, eng engine.Engine, req engine.ChatRequest, emit func(string)) error {
	s, err := eng.Chat(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk.Content != "" {
			emit(chunk.Content)
		}
	}
}
