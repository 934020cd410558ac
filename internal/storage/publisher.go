package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	queueSize = 1024
	batchSize = 64
)

// Reading - одно декодированное значение порта.
type Reading struct {
	Device    string    `json:"device"`
	Port      string    `json:"port"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher публикует показания в Redis Pub/Sub. Offer не блокируется,
// поэтому его можно вызывать из callback порта.
type Publisher struct {
	client   *redis.Client
	channel  string
	log      *logrus.Entry
	readings chan Reading
	wg       sync.WaitGroup

	mu      sync.Mutex
	dropped uint64
}

func NewPublisher(ctx context.Context, addr, password, channel string, db int, log *logrus.Entry) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("подключение к Redis: %w", err)
	}
	log.Infof("Redis подключен: %s, канал %s", addr, channel)

	p := &Publisher{
		client:   client,
		channel:  channel,
		log:      log,
		readings: make(chan Reading, queueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Offer ставит показание в очередь публикации; при переполнении отбрасывает его.
func (p *Publisher) Offer(r Reading) bool {
	select {
	case p.readings <- r:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return false
	}
}

// Dropped возвращает число отброшенных показаний.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) run() {
	defer p.wg.Done()
	batch := make([]Reading, 0, batchSize)
	for r := range p.readings {
		batch = append(batch[:0], r)
	fill:
		for len(batch) < batchSize {
			select {
			case next, ok := <-p.readings:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := p.publishBatch(context.Background(), batch); err != nil {
			p.log.Warnf("публикация %d показаний: %v", len(batch), err)
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, batch []Reading) error {
	pipe := p.client.Pipeline()
	for _, r := range batch {
		data, err := json.Marshal(r)
		if err != nil {
			p.log.Errorf("сериализация показания: %v", err)
			continue
		}
		pipe.Publish(ctx, p.channel, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close дожидается публикации очереди и закрывает соединение.
func (p *Publisher) Close() error {
	close(p.readings)
	p.wg.Wait()
	return p.client.Close()
}
