package di2008

import "fmt"

// MaxScanList - предельная длина списка сканирования прибора.
const MaxScanList = 11

// packetSizes - размер пакета в байтах для команды ps 0..3.
var packetSizes = []int{16, 32, 64, 128}

func packetSizeID(n int) int {
	switch {
	case n < 8:
		return 0
	case n < 16:
		return 1
	case n < 32:
		return 2
	}
	return 3
}

// CompileScanList строит последовательность команд настройки, которую прибор
// должен получить перед start: ps, slist для каждого порта, вспомогательные
// команды портов в порядке списка и завершающий запрос info 9.
//
// Повторяющиеся конфигурации не отклоняются: один канал можно опрашивать
// несколько раз за цикл.
func CompileScanList(ports []*Port) ([]string, error) {
	for i, p := range ports {
		if p == nil {
			return nil, fmt.Errorf("элемент %d: %w", i, ErrInvalidPort)
		}
	}
	if len(ports) > MaxScanList {
		return nil, fmt.Errorf("%d портов: %w", len(ports), ErrScanListTooLong)
	}

	commands := make([]string, 0, 2+len(ports)*3)
	commands = append(commands, fmt.Sprintf("ps %d", packetSizeID(len(ports))))
	for offset, p := range ports {
		commands = append(commands, fmt.Sprintf("slist %d %d", offset, p.config))
	}
	for _, p := range ports {
		commands = append(commands, p.commands...)
	}
	commands = append(commands, "info 9")
	return commands, nil
}
