package di2008

import (
	"context"
	"fmt"
	"sync"
)

// Pool хранит открытые сессии по серийному номеру для многопоточного доступа.
type Pool struct {
	base    Config
	devices map[string]*Instrument
	mu      sync.RWMutex
	open    func(context.Context, Config) (*Instrument, error)
}

// NewPool создает пул; base задает параметры каждой новой сессии.
func NewPool(base Config) *Pool {
	return &Pool{base: base, devices: make(map[string]*Instrument), open: Open}
}

// Get возвращает сессию прибора с серийным номером serial ("" - первый найденный).
// Освобожденные сессии открываются заново.
func (p *Pool) Get(ctx context.Context, serial string) (*Instrument, error) {
	p.mu.RLock()
	if inst, exists := p.devices[serial]; exists && inst.currentTransport() != nil {
		p.mu.RUnlock()
		return inst, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if inst, exists := p.devices[serial]; exists && inst.currentTransport() != nil {
		return inst, nil
	}

	cfg := p.base
	cfg.SerialNumber = serial
	inst, err := p.open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия прибора %q: %w", serial, err)
	}
	p.devices[serial] = inst
	return inst, nil
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for serial, inst := range p.devices {
		inst.Close()
		delete(p.devices, serial)
	}
}
