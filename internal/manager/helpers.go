package manager

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"hochat/pkg/types"
)

const (
	titleMaxRunes = 50
	defaultTitle  = "New conversation"
	idAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// newConversationID returns conv_<epoch ms>_<9 base36 chars>.
func newConversationID(now time.Time) string {
	var b strings.Builder
	for range 9 {
		b.WriteByte(idAlphabet[rand.IntN(len(idAlphabet))])
	}
	return fmt.Sprintf("conv_%d_%s", now.UnixMilli(), b.String())
}

// deriveTitle uses the first user message, cut to 50 runes with an
// ellipsis when longer.
func deriveTitle(msgs []types.Message) string {
	for _, msg := range msgs {
		if msg.Role != types.RoleUser || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if utf8.RuneCountInString(msg.Content) <= titleMaxRunes {
			return msg.Content
		}
		return string([]rune(msg.Content)[:titleMaxRunes]) + "..."
	}
	return defaultTitle
}

func markCustom(models []types.Model) []types.Model {
	out := make([]types.Model, 0, len(models))
	for _, mdl := range models {
		if mdl.ID == "" {
			continue
		}
		mdl.Custom = true
		mdl.Recommended = false
		out = append(out, mdl)
	}
	return out
}

func (m *Manager) lookupLocked(id string) (types.Model, bool) {
	return m.catalog.With(m.custom).Lookup(id)
}
