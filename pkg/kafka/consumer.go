package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "SwingPulse/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type job struct {
	topic string
	msg   kafka.Message
}

// Consumer fans messages from one reader per topic out to a worker pool.
// Messages of one partition are handled one at a time.
type Consumer struct {
	cfg      ConsumerConfig
	logger   *applogger.Logger
	metrics  *consumerMetrics
	handlers map[string]MessageHandler

	readers    map[string]*kafka.Reader
	committers map[string]messageCommitter
	dlq        messageWriter
	jobs       chan job

	locksMu sync.Mutex
	locks   map[string]map[int]*sync.Mutex

	cancel   context.CancelFunc
	readWg   sync.WaitGroup
	workWg   sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer. Handlers must be registered before Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	c := &Consumer{
		cfg:        cfg,
		logger:     cfg.Logger.Named("kafka_consumer"),
		metrics:    newConsumerMetrics(cfg.Registerer),
		handlers:   make(map[string]MessageHandler),
		readers:    make(map[string]*kafka.Reader),
		committers: make(map[string]messageCommitter),
		jobs:       make(chan job, cfg.BufferSize),
		locks:      make(map[string]map[int]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler binds h to its topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start launches the readers and workers. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
		c.readers[topic] = r
		c.committers[topic] = r
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workWg.Add(1)
		go c.worker(ctx)
	}
	for topic, r := range c.readers {
		c.readWg.Add(1)
		go c.fetch(ctx, topic, r)
	}
	c.logger.Info("kafka consumer started",
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.String("group", c.cfg.GroupID))
	return nil
}

// Stop cancels fetching, drains in-flight work and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.readWg.Wait()
			close(c.jobs)
			c.workWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.logger.Warn("close reader", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.logger.Warn("close dlq writer", applogger.Error(err))
			}
		}
		c.logger.Info("kafka consumer stopped")
	})
	return stopErr
}

func (c *Consumer) fetch(ctx context.Context, topic string, r *kafka.Reader) {
	defer c.readWg.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, 1)) {
				return
			}
			continue
		}
		select {
		case c.jobs <- job{topic: topic, msg: msg}:
			c.metrics.queueDepth.WithLabelValues(topic).Set(float64(len(c.jobs)))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.workWg.Done()
	for j := range c.jobs {
		c.process(ctx, j)
	}
}

// process handles one message with retries, routes exhausted messages to the
// DLQ and commits the offset once the message is settled.
func (c *Consumer) process(ctx context.Context, j job) {
	h, ok := c.handlers[j.topic]
	if !ok {
		return
	}
	start := time.Now()
	pl := c.partitionLock(j.topic, j.msg.Partition)
	pl.Lock()
	defer pl.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.handleSafe(ctx, h, j.msg.Value)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return
		}
	}
	c.metrics.handled.WithLabelValues(j.topic, resultLabel(err)).Inc()
	c.metrics.latency.WithLabelValues(j.topic).Observe(time.Since(start).Seconds())

	settled := err == nil
	if err != nil {
		c.logger.Error("message handling failed",
			applogger.String("topic", j.topic),
			applogger.Int("partition", j.msg.Partition),
			applogger.Int64("offset", j.msg.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		settled = c.deadLetter(ctx, j, err)
	}
	if settled {
		c.commit(ctx, j)
	}
}

func (c *Consumer) handleSafe(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) deadLetter(ctx context.Context, j job, cause error) bool {
	if c.dlq == nil {
		return false
	}
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   j.msg.Key,
		Value: j.msg.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(j.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.logger.Error("dlq write failed", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	c.metrics.deadLettered.WithLabelValues(j.topic).Inc()
	return true
}

func (c *Consumer) commit(ctx context.Context, j job) {
	cm := c.committers[j.topic]
	if cm == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = cm.CommitMessages(cctx, j.msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.logger.Error("commit failed", applogger.String("topic", j.topic), applogger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	m, ok := c.locks[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.locks[topic] = m
	}
	l, ok := m[partition]
	if !ok {
		l = &sync.Mutex{}
		m[partition] = l
	}
	return l
}

// backoffWithJitter doubles min per attempt up to max and subtracts up to half as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt <= 30 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int64N(half))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type consumerMetrics struct {
	queueDepth   *prometheus.GaugeVec
	handled      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swingpulse_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker.",
		}, []string{"topic"}),
		handled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swingpulse_kafka_consumer_messages_total",
			Help: "Messages handled by result.",
		}, []string{"topic", "result"}),
		deadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swingpulse_kafka_consumer_dead_lettered_total",
			Help: "Messages routed to the dead-letter topic.",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swingpulse_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}
