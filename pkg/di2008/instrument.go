package di2008

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/godi2008/internal/util"
)

const (
	DefaultInterval      = 50 * time.Millisecond
	DefaultReadTimeout   = 5 * time.Millisecond
	DefaultSampleRate    = 10
	DefaultOverflowBytes = 64 << 10

	readChunk = 512
)

var ledColors = []string{"black", "blue", "green", "cyan", "red", "magenta", "yellow", "white"}

// Config - параметры сессии, передаются явно при создании.
type Config struct {
	PortName      string // путь последовательного порта; пусто - поиск по VID
	SerialNumber  string // серийный номер нужного прибора; пусто - первый найденный
	UseUSB        bool   // работать через bulk-точки USB вместо COM-порта
	Interval      time.Duration
	ReadTimeout   time.Duration
	SampleRate    int // аргумент srate, 4..2232
	OverflowBytes int // порог одной выборки, после которого выполняется ресинхронизация
	Debug         bool
	Logger        *logrus.Entry
	Metrics       *Metrics
}

func (c *Config) setDefaults() error {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SampleRate < 4 || c.SampleRate > 2232 {
		return configErr("sample_rate", c.SampleRate, "ожидается от 4 до 2232 включительно")
	}
	if c.OverflowBytes <= 0 {
		c.OverflowBytes = DefaultOverflowBytes
	}
	if c.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.InfoLevel)
		c.Logger = logrus.NewEntry(l)
	}
	if c.Debug {
		c.Logger.Logger.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// Identity - сведения, которые прибор сообщает в ответах info.
type Identity struct {
	Manufacturer string
	ProductID    string
	Firmware     string
	SerialNumber string
}

// Instrument - сессия работы с одним прибором. Транспорт принадлежит
// фоновому циклу; все команды проходят через очередь.
type Instrument struct {
	cfg     Config
	log     *logrus.Entry
	metrics *Metrics

	queue commandQueue
	dio   *dioRegister

	mu        sync.RWMutex
	transport util.Transport // nil после освобождения
	ports     []*Port
	scanning  bool
	identity  Identity
	err       error

	// Состояние приемника, доступно только фоновому циклу.
	buf     []byte
	cursor  int
	pending []byte
	text    []byte

	done chan struct{}
}

func newInstrument(t util.Transport, name string, cfg Config) (*Instrument, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	i := &Instrument{
		cfg:       cfg,
		log:       cfg.Logger.WithField("device", name),
		metrics:   cfg.Metrics,
		dio:       newDIORegister(),
		transport: t,
		buf:       make([]byte, readChunk),
		done:      make(chan struct{}),
	}
	i.queue.push("stop", "info 0", "info 1", "info 2", "info 6", fmt.Sprintf("srate %d", cfg.SampleRate))
	return i, nil
}

func (i *Instrument) String() string {
	id := i.Identity()
	return fmt.Sprintf("%s DI-%s, serial number %s, firmware %s", id.Manufacturer, id.ProductID, id.SerialNumber, id.Firmware)
}

// SetScanList заменяет список сканирования целиком и ставит в очередь
// команды его настройки. Вызывать только при остановленном сканировании.
func (i *Instrument) SetScanList(ports []*Port) error {
	commands, err := CompileScanList(ports)
	if err != nil {
		return err
	}
	list := make([]*Port, len(ports))
	copy(list, ports)

	i.mu.Lock()
	i.ports = list
	i.mu.Unlock()
	return i.enqueue(append(i.digitalSetup(list), commands...)...)
}

// digitalSetup переносит направления дискретных портов списка в регистр DIO
// и возвращает команду endo, если такие порты есть.
func (i *Instrument) digitalSetup(ports []*Port) []string {
	var (
		reg   uint8
		found bool
	)
	for _, p := range ports {
		if p.kind != KindDigital {
			continue
		}
		reg = i.dio.setDirection(p.channel, p.direction)
		found = true
	}
	if !found {
		return nil
	}
	return []string{fmt.Sprintf("endo %d", reg)}
}

// Ports возвращает текущий список сканирования.
func (i *Instrument) Ports() []*Port {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Port, len(i.ports))
	copy(out, i.ports)
	return out
}

// Start запускает сканирование. Список должен быть задан заранее.
func (i *Instrument) Start() error { return i.enqueue("start") }

// Stop останавливает сканирование на уровне протокола; фоновый цикл продолжает работу.
func (i *Instrument) Stop() error { return i.enqueue("stop") }

// SetLED меняет цвет светодиода прибора.
func (i *Instrument) SetLED(color string) error {
	for n, c := range ledColors {
		if strings.EqualFold(strings.TrimSpace(color), c) {
			return i.enqueue(fmt.Sprintf("led %d", n))
		}
	}
	return configErr("color", color, "ожидается одно из: %s", strings.Join(ledColors, ", "))
}

// SetDIODirection задает направление дискретного канала 0..6.
func (i *Instrument) SetDIODirection(ch int, dir Direction) error {
	if err := checkDIOChannel(ch); err != nil {
		return err
	}
	if dir != Input && dir != Output {
		return configErr("direction", dir, "ожидается input или output")
	}
	reg := i.dio.setDirection(ch, dir)
	return i.enqueue(fmt.Sprintf("endo %d", reg))
}

// WriteDO задает состояние выхода: true - ключ отпущен, false - линия прижата к земле.
func (i *Instrument) WriteDO(ch int, state bool) error {
	if err := checkDIOChannel(ch); err != nil {
		return err
	}
	reg, ok := i.dio.write(ch, state)
	if !ok {
		return configErr("channel", ch, "канал не настроен на вывод")
	}
	return i.enqueue(fmt.Sprintf("dout %d", reg))
}

// ReadDI возвращает последнее известное состояние канала независимо от направления.
func (i *Instrument) ReadDI(ch int) (bool, error) {
	if err := checkDIOChannel(ch); err != nil {
		return false, err
	}
	return i.dio.read(ch), nil
}

// DIODirection возвращает текущее направление канала.
func (i *Instrument) DIODirection(ch int) (Direction, error) {
	if err := checkDIOChannel(ch); err != nil {
		return Input, err
	}
	return i.dio.directionOf(ch), nil
}

// Recover выполняет полную ресинхронизацию после переполнения буфера:
// очередь очищается, затем stop, повторная настройка списка и start.
func (i *Instrument) Recover() error {
	ports := i.Ports()
	commands, err := CompileScanList(ports)
	if err != nil {
		return err
	}
	i.queue.clear()
	i.metrics.recovery()
	i.log.Warn("ресинхронизация: stop, повторная настройка списка сканирования, start")
	cmds := append([]string{"stop"}, i.digitalSetup(ports)...)
	cmds = append(cmds, commands...)
	return i.enqueue(append(cmds, "start")...)
}

// Pending возвращает команды, ожидающие отправки.
func (i *Instrument) Pending() []string { return i.queue.snapshot() }

func (i *Instrument) Scanning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.scanning
}

func (i *Instrument) Identity() Identity {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.identity
}

// Err возвращает причину освобождения прибора или nil.
func (i *Instrument) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Done закрывается после завершения фонового цикла.
func (i *Instrument) Done() <-chan struct{} { return i.done }

// Close освобождает транспорт. Фоновый цикл завершится на следующей итерации.
func (i *Instrument) Close() error {
	i.log.Warn("закрытие порта")
	i.release(nil)
	return nil
}

func (i *Instrument) enqueue(cmds ...string) error {
	if i.currentTransport() == nil {
		return ErrClosed
	}
	i.queue.push(cmds...)
	return nil
}

func (i *Instrument) currentTransport() util.Transport {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.transport
}

// release закрывает транспорт. Сохраняется только первая причина.
func (i *Instrument) release(reason error) {
	i.mu.Lock()
	t := i.transport
	if t == nil {
		i.mu.Unlock()
		return
	}
	i.transport = nil
	i.err = reason
	i.scanning = false
	i.mu.Unlock()

	if reason != nil {
		i.log.Errorf("прибор освобожден: %v", reason)
	}
	if err := t.Close(); err != nil {
		i.log.Warnf("ошибка закрытия транспорта: %v", err)
	}
}

func (i *Instrument) setScanning(on bool) {
	i.mu.Lock()
	i.scanning = on
	i.mu.Unlock()
}

// run - цикл опроса: прием, одна команда из очереди, пауза.
func (i *Instrument) run() {
	defer close(i.done)
	if t := i.currentTransport(); t != nil {
		if err := t.SetReadTimeout(i.cfg.ReadTimeout); err != nil {
			i.log.Warnf("не удалось установить таймаут чтения: %v", err)
		}
	}
	for i.tick() {
		time.Sleep(i.cfg.Interval)
	}
	i.log.Info("цикл опроса завершен")
}

// tick выполняет одну итерацию цикла без паузы. false - транспорт освобожден.
func (i *Instrument) tick() bool {
	t := i.currentTransport()
	if t == nil {
		return false
	}
	i.drain(t)
	if t = i.currentTransport(); t == nil {
		return false
	}
	i.transmit(t)
	return true
}

// drain вычитывает все доступные байты. Пустое чтение или таймаут
// завершают выборку и ошибкой не считаются.
func (i *Instrument) drain(t util.Transport) {
	total := 0
	for {
		n, err := t.Read(i.buf)
		if n > 0 {
			total += n
			i.metrics.bytesReceived(n)
			i.receive(i.buf[:n])
			// Разбор ответа мог освободить прибор.
			if i.currentTransport() == nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				i.release(fmt.Errorf("ошибка чтения: %w", err))
			}
			return
		}
		if n == 0 {
			return
		}
		if total > i.cfg.OverflowBytes && i.Scanning() {
			i.log.Warnf("за одну выборку получено %d байт, вероятно переполнение буфера прибора", total)
			if err := i.Recover(); err != nil {
				i.log.Errorf("ресинхронизация не выполнена: %v", err)
			}
			return
		}
	}
}

// transmit отправляет не более одной команды из очереди.
func (i *Instrument) transmit(t util.Transport) {
	scanning := i.Scanning()
	cmd, ok := i.queue.next(!scanning)
	if !ok {
		return
	}

	switch keyword(cmd) {
	case "start":
		i.setScanning(true)
		i.cursor = 0
		i.pending = i.pending[:0]
	case "stop":
		i.setScanning(false)
		i.text = i.text[:0]
	}

	i.log.Debugf("отправка %q", cmd)
	if _, err := t.Write([]byte(cmd + "\r")); err != nil {
		i.release(fmt.Errorf("ошибка отправки %q: %w", cmd, err))
		return
	}
	i.metrics.commandSent(cmd)
}
