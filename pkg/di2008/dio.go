package di2008

import "sync"

// DIOChannels - число дискретных каналов прибора.
const DIOChannels = 7

func checkDIOChannel(ch int) error {
	if ch < 0 || ch >= DIOChannels {
		return configErr("channel", ch, "ожидается от 0 до %d включительно", DIOChannels-1)
	}
	return nil
}

// dioRegister хранит направление и последнее известное состояние каждого
// дискретного канала.
//
// Выходы прибора - ключи с открытым стоком: логическое true (ключ отпущен,
// линия подтянута вверх) записывается в регистр dout битом 0, false - битом 1.
type dioRegister struct {
	mu        sync.RWMutex
	direction uint8 // бит 1 - выход, как в команде endo
	state     [DIOChannels]bool
}

func newDIORegister() *dioRegister {
	r := &dioRegister{}
	for i := range r.state {
		r.state[i] = true
	}
	return r
}

// setDirection меняет направление канала и возвращает полный регистр endo.
func (r *dioRegister) setDirection(ch int, dir Direction) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir == Output {
		r.direction |= 1 << uint(ch)
	} else {
		r.direction &^= 1 << uint(ch)
	}
	return r.direction
}

func (r *dioRegister) directionOf(ch int) Direction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.direction&(1<<uint(ch)) != 0 {
		return Output
	}
	return Input
}

// write запоминает состояние выхода и возвращает полный регистр dout.
// Для каналов, настроенных на ввод, возвращает false.
func (r *dioRegister) write(ch int, state bool) (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.direction&(1<<uint(ch)) == 0 {
		return 0, false
	}
	r.state[ch] = state

	var reg uint8
	for i := 0; i < DIOChannels; i++ {
		if r.direction&(1<<uint(i)) != 0 && !r.state[i] {
			reg |= 1 << uint(i)
		}
	}
	return reg, true
}

// applyInputs обновляет состояния входов из слова din; выходы не трогает.
func (r *dioRegister) applyInputs(word uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < DIOChannels; i++ {
		if r.direction&(1<<uint(i)) != 0 {
			continue
		}
		r.state[i] = word&(1<<uint(i)) != 0
	}
}

func (r *dioRegister) read(ch int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[ch]
}
