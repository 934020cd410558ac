package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// Номера bulk-точек DI-2008: IN 0x81, OUT 0x01.
const (
	endpointIn  = 1
	endpointOut = 1
)

// usbPort работает с прибором напрямую через bulk-точки, минуя драйвер CDC.
type usbPort struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	mu      sync.Mutex
	timeout time.Duration
}

func (u *usbPort) Read(p []byte) (int, error) {
	u.mu.Lock()
	timeout := u.timeout
	u.mu.Unlock()

	if timeout <= 0 {
		return u.in.Read(p)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := u.in.ReadContext(ctx, p)
	if err != nil && ctx.Err() != nil {
		// Таймаут - просто нет данных.
		return n, nil
	}
	return n, err
}

func (u *usbPort) Write(p []byte) (int, error) { return u.out.Write(p) }

func (u *usbPort) SetReadTimeout(t time.Duration) error {
	u.mu.Lock()
	u.timeout = t
	u.mu.Unlock()
	return nil
}

func (u *usbPort) Close() error {
	if u.done != nil {
		u.done()
		u.done = nil
	}
	var err error
	if u.dev != nil {
		err = u.dev.Close()
		u.dev = nil
	}
	if u.ctx != nil {
		u.ctx.Close()
		u.ctx = nil
	}
	return err
}

// OpenUSB открывает прибор по номеру шины и адресу.
func OpenUSB(bus, address int) (Transport, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == address &&
			uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("ошибка USB: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("устройство не найдено (шина %d, адрес %d)", bus, address)
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	// На Linux интерфейс занят cdc_acm, его нужно отцепить.
	_ = dev.SetAutoDetach(true)

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("не удалось захватить интерфейс: %w", err)
	}

	u := &usbPort{ctx: ctx, dev: dev, done: done}
	if u.in, err = intf.InEndpoint(endpointIn); err != nil {
		u.Close()
		return nil, fmt.Errorf("не удалось открыть IN-точку: %w", err)
	}
	if u.out, err = intf.OutEndpoint(endpointOut); err != nil {
		u.Close()
		return nil, fmt.Errorf("не удалось открыть OUT-точку: %w", err)
	}
	return u, nil
}

// USBCandidates перечисляет приборы DI-2008 на шине USB без их открытия.
func USBCandidates() ([]Candidate, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []Candidate
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != VendorID || uint16(desc.Product) != ProductID {
			return false
		}
		bus, address := desc.Bus, desc.Address
		out = append(out, Candidate{
			Name: fmt.Sprintf("usb:%03d:%03d", bus, address),
			Open: func() (Transport, error) { return OpenUSB(bus, address) },
		})
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return out, fmt.Errorf("перечисление USB-устройств: %w", err)
	}
	return out, nil
}
