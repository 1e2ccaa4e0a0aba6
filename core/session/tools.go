package session

import (
	"sync"

	"github.com/koscakluka/ema-live/core/events"
)

// toolLedger tracks invocations awaiting their single response.
type toolLedger struct {
	mu      sync.Mutex
	pending map[string]string
}

func newToolLedger() *toolLedger {
	return &toolLedger{pending: map[string]string{}}
}

func (l *toolLedger) add(invocations []events.ToolInvocation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, inv := range invocations {
		l.pending[inv.ID] = inv.Name
	}
}

// resolve removes id from the ledger and returns its tool name.
func (l *toolLedger) resolve(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
	}
	return name, ok
}

func (l *toolLedger) outstanding() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	return ids
}
