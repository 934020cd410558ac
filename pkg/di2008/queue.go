package di2008

import (
	"strings"
	"sync"
)

// commandQueue - FIFO исходящих текстовых команд.
type commandQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *commandQueue) push(cmds ...string) {
	q.mu.Lock()
	q.items = append(q.items, cmds...)
	q.mu.Unlock()
}

func (q *commandQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *commandQueue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}

// next извлекает одну команду для передачи. Из нескольких ожидающих dout
// отправляется только последняя, остальные удаляются из очереди.
// При пустой очереди и idlePoll ставится опрос din, а next возвращает false.
func (q *commandQueue) next(idlePoll bool) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if idlePoll {
			q.items = append(q.items, "din")
		}
		return "", false
	}

	cmd := q.items[0]
	q.items = q.items[1:]
	if keyword(cmd) != "dout" {
		return cmd, true
	}

	kept := make([]string, 0, len(q.items))
	for _, c := range q.items {
		if keyword(c) == "dout" {
			cmd = c
			continue
		}
		kept = append(kept, c)
	}
	q.items = kept
	return cmd, true
}

// keyword возвращает первое слово команды или ответа.
func keyword(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
