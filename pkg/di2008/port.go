// Package di2008 реализует протокол прибора сбора данных DATAQ DI-2008:
// конфигурацию портов, очередь команд, разбор ответов и цикл опроса.
package di2008

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Раскладка конфигурационного слова slist.
const (
	channelMask = 0x0f
	scaleBit    = 8
	scaleMask   = 0x7 << scaleBit
	rangeBit    = 11
	modeBit     = 12

	digitalConfig = 0x8
	rateConfig    = 0x9
	countConfig   = 0xa
)

// Коды ошибок термопары.
const (
	tcOutOfRange = 32767
	tcOpen       = -32768
)

// DefaultStaleAfter - окно актуальности значения по умолчанию.
const DefaultStaleAfter = 3 * time.Second

// PortKind - вариант порта.
type PortKind int

const (
	KindVoltage PortKind = iota
	KindThermocouple
	KindRate
	KindDigital
)

func (k PortKind) String() string {
	switch k {
	case KindVoltage:
		return "voltage"
	case KindThermocouple:
		return "thermocouple"
	case KindRate:
		return "rate"
	case KindDigital:
		return "digital"
	}
	return fmt.Sprintf("PortKind(%d)", int(k))
}

// Direction - направление дискретного канала.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// FilterMode - режим фильтра аналогового канала (команда filter).
type FilterMode int

const (
	FilterLastPoint FilterMode = iota
	FilterAverage
	FilterMaximum
	FilterMinimum
)

var filterNames = []string{"last point", "average", "maximum", "minimum"}

func (f FilterMode) String() string {
	if f < 0 || int(f) >= len(filterNames) {
		return fmt.Sprintf("FilterMode(%d)", int(f))
	}
	return filterNames[f]
}

// ParseFilterMode разбирает название режима фильтра без учета регистра.
func ParseFilterMode(s string) (FilterMode, error) {
	for i, name := range filterNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return FilterMode(i), nil
		}
	}
	return 0, configErr("filter", s, "ожидается одно из: %s", strings.Join(filterNames, ", "))
}

var (
	voltageRanges     = []float64{0.5, 0.25, 0.1, 0.05, 0.025, 0.01}
	voltageRangesHigh = []float64{50, 25, 10, 5, 2.5, 1}

	thermocoupleTypes = "bejknrst"
	// Коэффициенты из документации на прибор, в порядке thermocoupleTypes.
	tcSlope     = []float64{0.023956, 0.018311, 0.021515, 0.023987, 0.022888, 0.02774, 0.02774, 0.009155}
	tcIntercept = []float64{1035, 400, 495, 586, 550, 859, 859, 100}

	// Индекс диапазона частоты в слове конфигурации равен позиции + 1.
	rateRanges = []int{50000, 20000, 10000, 5000, 2000, 1000, 500, 200, 100, 50, 20, 10}
)

// AnalogConfig - параметры аналогового входа. Должно быть задано ровно одно
// из полей Range и Thermocouple.
type AnalogConfig struct {
	Channel      int     // 1..8, как подписано на корпусе
	Range        float64 // полный диапазон в вольтах, 0 - не задан
	Thermocouple string  // тип термопары b,e,j,k,n,r,s,t; "" - не задан
	Filter       FilterMode
	Decimation   int // 1..32767, 0 - по умолчанию 10
}

// PortOption настраивает необязательные параметры порта.
type PortOption func(*Port)

// WithCallback задает функцию, вызываемую при каждом успешном декодировании.
// Вызывается синхронно в фоновом цикле прибора и не должна блокироваться.
func WithCallback(fn func(value float64)) PortOption {
	return func(p *Port) { p.callback = fn }
}

// WithStaleAfter задает окно актуальности значения; 0 отключает проверку.
func WithStaleAfter(d time.Duration) PortOption {
	return func(p *Port) { p.staleAfter = d }
}

// WithLogger задает журнал порта.
func WithLogger(l *logrus.Entry) PortOption {
	return func(p *Port) { p.log = l }
}

// Port - один элемент списка сканирования. Конфигурация неизменна после
// создания, значение обновляется фоновым циклом и читается конкурентно.
type Port struct {
	kind      PortKind
	config    uint16
	commands  []string
	channel   int
	rangeHz   int
	direction Direction

	callback   func(float64)
	staleAfter time.Duration
	now        func() time.Time
	log        *logrus.Entry

	mu      sync.RWMutex
	value   float64
	valid   bool
	updated time.Time
}

func newPort(kind PortKind, opts []PortOption) *Port {
	p := &Port{kind: kind, staleAfter: DefaultStaleAfter, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return p
}

// NewAnalogPort создает аналоговый вход в режиме напряжения или термопары.
func NewAnalogPort(cfg AnalogConfig, opts ...PortOption) (*Port, error) {
	if cfg.Channel == 0 {
		return nil, configErr("channel", 0, "канал 0 не существует, номера каналов совпадают с маркировкой прибора")
	}
	if cfg.Channel < 1 || cfg.Channel > 8 {
		return nil, configErr("channel", cfg.Channel, "ожидается от 1 до 8 включительно")
	}
	if cfg.Range != 0 && cfg.Thermocouple != "" {
		return nil, configErr("range", cfg.Range, "диапазон и тип термопары %q заданы одновременно для канала %d", cfg.Thermocouple, cfg.Channel)
	}
	if cfg.Range == 0 && cfg.Thermocouple == "" {
		return nil, configErr("range", cfg.Range, "не задан ни диапазон, ни тип термопары для канала %d", cfg.Channel)
	}
	if cfg.Filter < FilterLastPoint || cfg.Filter > FilterMinimum {
		return nil, configErr("filter", cfg.Filter, "ожидается одно из: %s", strings.Join(filterNames, ", "))
	}
	if cfg.Decimation == 0 {
		cfg.Decimation = 10
	}
	if cfg.Decimation < 1 || cfg.Decimation > 32767 {
		return nil, configErr("decimation", cfg.Decimation, "ожидается от 1 до 32767 включительно")
	}

	config := uint16(cfg.Channel - 1)
	kind := KindVoltage

	if cfg.Range != 0 {
		idx, high := rangeIndex(cfg.Range)
		if idx < 0 {
			return nil, configErr("range", cfg.Range, "допустимые значения: %s", formatRanges())
		}
		if high {
			config |= 1 << rangeBit
		}
		config |= uint16(idx) << scaleBit
	} else {
		idx := strings.Index(thermocoupleTypes, strings.ToLower(cfg.Thermocouple))
		if len(cfg.Thermocouple) != 1 || idx < 0 {
			return nil, configErr("thermocouple", cfg.Thermocouple, "ожидается одна буква из B,E,J,K,N,R,S,T")
		}
		kind = KindThermocouple
		config |= 1 << modeBit
		config |= uint16(idx) << scaleBit
	}

	p := newPort(kind, opts)
	p.channel = cfg.Channel
	p.config = config
	p.commands = []string{
		fmt.Sprintf("filter %d %d", cfg.Channel, int(cfg.Filter)),
		fmt.Sprintf("dec %d", cfg.Decimation),
	}
	return p, nil
}

// NewRatePort создает частотный вход с диапазоном rangeHz.
func NewRatePort(rangeHz, filterSamples int, opts ...PortOption) (*Port, error) {
	idx := -1
	for i, r := range rateRanges {
		if r == rangeHz {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, configErr("range_hz", rangeHz, "допустимые значения: %v", rateRanges)
	}
	if filterSamples < 1 || filterSamples > 64 {
		return nil, configErr("filter_samples", filterSamples, "ожидается от 1 до 64 включительно")
	}

	p := newPort(KindRate, opts)
	p.rangeHz = rangeHz
	p.config = uint16(idx+1)<<scaleBit | rateConfig
	p.commands = []string{fmt.Sprintf("ffl %d", filterSamples)}
	return p, nil
}

// NewDigitalPort создает элемент списка сканирования для дискретного канала.
// Само слово дискретных входов разбирается моделью регистра DIO.
func NewDigitalPort(channel int, dir Direction, opts ...PortOption) (*Port, error) {
	if err := checkDIOChannel(channel); err != nil {
		return nil, err
	}
	if dir != Input && dir != Output {
		return nil, configErr("direction", dir, "ожидается input или output")
	}
	p := newPort(KindDigital, opts)
	p.channel = channel
	p.direction = dir
	p.config = digitalConfig
	return p, nil
}

// NewCountPort зарезервирован под счетный вход, который пока не реализован.
func NewCountPort(opts ...PortOption) (*Port, error) {
	return nil, fmt.Errorf("счетный вход (slist %#x): %w", countConfig, ErrUnsupportedPort)
}

func (p *Port) Kind() PortKind { return p.kind }

// Direction возвращает направление дискретного порта; для остальных - Input.
func (p *Port) Direction() Direction { return p.direction }

// Config возвращает конфигурационное слово для команды slist.
func (p *Port) Config() uint16 { return p.config }

// Commands возвращает вспомогательные команды настройки порта.
func (p *Port) Commands() []string {
	out := make([]string, len(p.commands))
	copy(out, p.commands)
	return out
}

// Value возвращает последнее значение в инженерных единицах. false означает,
// что значение неизвестно: отсчетов не было, датчик неисправен или значение устарело.
func (p *Port) Value() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.valid {
		return 0, false
	}
	if p.staleAfter > 0 && p.now().Sub(p.updated) > p.staleAfter {
		return 0, false
	}
	return p.value, true
}

func (p *Port) String() string {
	switch p.kind {
	case KindVoltage:
		return fmt.Sprintf("analog input, channel %d range +/-%gV", p.channel, p.rangeVolts())
	case KindThermocouple:
		return fmt.Sprintf("analog input, channel %d thermocouple type %s", p.channel, strings.ToUpper(string(thermocoupleTypes[p.scale()])))
	case KindRate:
		return fmt.Sprintf("rate input, %dHz", p.rangeHz)
	case KindDigital:
		return fmt.Sprintf("digital %s, channel %d", p.direction, p.channel)
	}
	return "unknown port"
}

// decode переводит сырой отсчет в инженерные единицы и сохраняет результат.
// false означает код ошибки датчика: значение сброшено, callback не вызывается.
func (p *Port) decode(raw int16) (float64, bool) {
	var value float64
	switch p.kind {
	case KindVoltage:
		value = p.rangeVolts() * float64(raw) / 32768.0
	case KindThermocouple:
		switch raw {
		case tcOutOfRange:
			p.invalidate()
			p.log.Warnf("ошибка термопары: нет связи с датчиком или значение вне диапазона на %q", p)
			return 0, false
		case tcOpen:
			p.invalidate()
			p.log.Warnf("ошибка термопары: обрыв или датчик не подключен на %q", p)
			return 0, false
		}
		idx := p.scale()
		value = float64(raw)*tcSlope[idx] + tcIntercept[idx]
	case KindRate:
		value = float64(p.rangeHz) * (float64(raw) + 32768) / 65536
	case KindDigital:
		value = float64((uint16(raw) >> uint(p.channel)) & 1)
	default:
		return 0, false
	}

	p.mu.Lock()
	p.value = value
	p.valid = true
	p.updated = p.now()
	p.mu.Unlock()

	p.log.Debugf("отсчет %d для %q преобразован в %.4f", raw, p, value)
	if p.callback != nil {
		p.callback(value)
	}
	return value, true
}

func (p *Port) invalidate() {
	p.mu.Lock()
	p.valid = false
	p.mu.Unlock()
}

func (p *Port) scale() int { return int(p.config&scaleMask) >> scaleBit }

func (p *Port) rangeVolts() float64 {
	if p.config&(1<<rangeBit) != 0 {
		return voltageRangesHigh[p.scale()]
	}
	return voltageRanges[p.scale()]
}

// rangeIndex возвращает индекс шкалы и признак множителя x100.
func rangeIndex(r float64) (int, bool) {
	for i, v := range voltageRanges {
		if v == r {
			return i, false
		}
	}
	for i, v := range voltageRangesHigh {
		if v == r {
			return i, true
		}
	}
	return -1, false
}

func formatRanges() string {
	parts := make([]string, 0, len(voltageRanges)*2)
	for i := len(voltageRanges) - 1; i >= 0; i-- {
		parts = append(parts, fmt.Sprintf("%g", voltageRanges[i]))
	}
	for i := len(voltageRangesHigh) - 1; i >= 0; i-- {
		parts = append(parts, fmt.Sprintf("%g", voltageRangesHigh[i]))
	}
	return strings.Join(parts, ", ")
}
