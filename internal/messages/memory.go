package messages

import (
	"context"
	"strings"
	"sync"

	"notice-engine/internal/notice"
)

// Memory is an in-process Source, used by the CLI fixtures and tests.
type Memory struct {
	mu   sync.RWMutex
	msgs map[string]string
}

func NewMemory() *Memory {
	return &Memory{msgs: map[string]string{}}
}

func memKey(key, lang string) string { return strings.ToLower(lang) + "\x00" + key }

func (m *Memory) Set(key, lang, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[memKey(key, lang)] = text
}

func (m *Memory) Lookup(_ context.Context, key, lang string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.msgs[memKey(key, lang)]
	if !ok {
		return "", notice.ErrMessageNotFound
	}
	return msg, nil
}
