package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	pkgkafka "SwingPulse/pkg/kafka"
)

// MarketDataSink accepts validated market data.
type MarketDataSink interface {
	AddMarketData(instrument string, data models.MarketData) error
}

// BarArchive persists accepted bars.
type BarArchive interface {
	SaveBars(ctx context.Context, instrument string, bars []models.Bar, primary models.Timeframe) error
}

// barsMessage is the wire schema of the bars topic.
type barsMessage struct {
	Instrument   string       `json:"instrument"`
	Bars         []models.Bar `json:"bars"`
	CurrentPrice float64      `json:"currentPrice"`
	Bid          *float64     `json:"bid,omitempty"`
	Ask          *float64     `json:"ask,omitempty"`
	Timestamp    int64        `json:"t"`
}

// KafkaBarsHandler feeds market data snapshots from Kafka into the controller
// and, when an archive is configured, persists the bars.
type KafkaBarsHandler struct {
	topic   string
	sink    MarketDataSink
	archive BarArchive
	primary func() models.Timeframe
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, sink MarketDataSink, archive BarArchive, primary func() models.Timeframe, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, sink: sink, archive: archive, primary: primary, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m barsMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal", "ingest")
		return fmt.Errorf("decode bars message: %w", err)
	}
	m.Instrument = strings.ToUpper(strings.TrimSpace(m.Instrument))
	if m.Timestamp > 0 {
		if m.Timestamp > 1e11 { // ms
			m.Timestamp /= 1000
		}
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(m.Timestamp, 0)).Seconds())
	}

	data := models.MarketData{
		Instrument:   m.Instrument,
		Bars:         m.Bars,
		CurrentPrice: m.CurrentPrice,
		Bid:          m.Bid,
		Ask:          m.Ask,
	}
	if m.Bid != nil && m.Ask != nil {
		spread := *m.Ask - *m.Bid
		data.Spread = &spread
	}
	if err := h.sink.AddMarketData(m.Instrument, data); err != nil {
		h.metrics.RecordError("consumer_validate", "ingest")
		return err
	}
	h.metrics.RecordIngest("kafka", m.Instrument)

	if h.archive != nil {
		start := time.Now()
		err := h.archive.SaveBars(ctx, m.Instrument, m.Bars, h.primary())
		h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
		if err != nil {
			h.metrics.RecordError("consumer_store", "ingest")
			return err
		}
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
