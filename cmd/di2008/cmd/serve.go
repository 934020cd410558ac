package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/momentics/godi2008/internal/storage"
	"github.com/momentics/godi2008/pkg/di2008"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with Prometheus metrics",
	Long: `Open the instrument, apply the configured scan list, start scanning and
serve the readings:

  GET  /api/v1/values            current value of every configured channel
  GET  /api/v1/info              instrument identity
  GET  /api/v1/dio?channel=N     last known state of a digital channel
  POST /api/v1/dio?channel=N&state=true|false   drive a digital output
  GET  /metrics                  Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http.addr)")
}

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "di2008_http_request_duration_seconds",
		Help: "Duration of API requests",
	},
	[]string{"path"},
)

// server держит одну сессию и переоткрывает ее через пул после освобождения.
type server struct {
	pool   *di2008.Pool
	serial string
	ports  []*di2008.Port
	names  []string

	mu   sync.Mutex
	inst *di2008.Instrument

	// current читается из callback портов без блокировки mu.
	current atomic.Pointer[di2008.Instrument]
}

// deviceSerial возвращает серийный номер, сообщенный прибором, а до его
// получения - номер из конфигурации.
func (s *server) deviceSerial() string {
	if inst := s.current.Load(); inst != nil {
		if sn := inst.Identity().SerialNumber; sn != "" {
			return sn
		}
	}
	return s.serial
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(requestDuration, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := di2008.NewMetrics(reg)

	var publisher *storage.Publisher
	if cfg.Redis.Enabled {
		p, err := storage.NewPublisher(cmd.Context(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.Channel, cfg.Redis.DB, log.WithField("component", "redis"))
		if err != nil {
			return err
		}
		publisher = p
		defer publisher.Close()
	}

	s := &server{serial: cfg.Device.Serial}

	var onValue func(string) func(float64)
	if publisher != nil {
		onValue = func(name string) func(float64) {
			return func(v float64) {
				publisher.Offer(storage.Reading{Device: s.deviceSerial(), Port: name, Value: v, Timestamp: time.Now()})
			}
		}
	}
	ports, names, err := buildPorts(cfg.Device.Channels, onValue)
	if err != nil {
		return err
	}
	s.ports, s.names = ports, names
	for n, p := range ports {
		p := p
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "di2008_port_value",
			Help:        "Last decoded value of a scan list port, NaN when unknown",
			ConstLabels: prometheus.Labels{"port": names[n]},
		}, func() float64 {
			v, ok := p.Value()
			if !ok {
				return math.NaN()
			}
			return v
		}))
	}

	pool := di2008.NewPool(sessionConfig(metrics))
	defer pool.CloseAll()
	s.pool = pool
	if _, err := s.instrument(cmd.Context()); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/values", s.timed("/api/v1/values", s.valuesHandler))
	mux.HandleFunc("/api/v1/info", s.timed("/api/v1/info", s.infoHandler))
	mux.HandleFunc("/api/v1/dio", s.timed("/api/v1/dio", s.dioHandler))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	go func() {
		log.Infof("сервер запущен на %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ошибка HTTP сервера: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("сервер останавливается...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при корректном завершении сервера: %w", err)
	}
	s.mu.Lock()
	if s.inst != nil {
		s.inst.Stop()
		settle(s.inst)
	}
	s.mu.Unlock()
	log.Info("сервер успешно остановлен")
	return nil
}

// instrument возвращает рабочую сессию; новая сессия получает список сканирования и start.
func (s *server) instrument(ctx context.Context) (*di2008.Instrument, error) {
	inst, err := s.pool.Get(ctx, s.serial)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if inst == s.inst {
		return inst, nil
	}
	if len(s.ports) > 0 {
		if err := inst.SetScanList(s.ports); err != nil {
			return nil, err
		}
		if err := inst.Start(); err != nil {
			return nil, err
		}
	}
	s.inst = inst
	s.current.Store(inst)
	return inst, nil
}

func (s *server) timed(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}

func (s *server) valuesHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.instrument(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("ошибка устройства: %v", err), http.StatusServiceUnavailable)
		return
	}
	values := make(map[string]*float64, len(s.ports))
	for n, p := range s.ports {
		if v, ok := p.Value(); ok {
			values[s.names[n]] = &v
		} else {
			values[s.names[n]] = nil
		}
	}
	writeJSON(w, values)
}

func (s *server) infoHandler(w http.ResponseWriter, r *http.Request) {
	inst, err := s.instrument(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("ошибка устройства: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, struct {
		di2008.Identity
		Scanning bool `json:"scanning"`
	}{inst.Identity(), inst.Scanning()})
}

func (s *server) dioHandler(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(r.URL.Query().Get("channel"))
	if err != nil {
		http.Error(w, "параметр 'channel' обязателен", http.StatusBadRequest)
		return
	}
	inst, err := s.instrument(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("ошибка устройства: %v", err), http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		state, err := inst.ReadDI(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dir, _ := inst.DIODirection(ch)
		writeJSON(w, map[string]interface{}{"channel": ch, "direction": dir.String(), "state": state})
	case http.MethodPost:
		state, err := strconv.ParseBool(r.URL.Query().Get("state"))
		if err != nil {
			http.Error(w, "параметр 'state' обязателен", http.StatusBadRequest)
			return
		}
		if dir, _ := inst.DIODirection(ch); dir != di2008.Output {
			if err := inst.SetDIODirection(ch, di2008.Output); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := inst.WriteDO(ch, state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "метод не поддерживается", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("ошибка кодирования ответа: %v", err)
	}
}
