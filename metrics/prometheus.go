// Package metrics provides Prometheus metrics for the BFT consensus
// engine, the block pipeline, and the mempool.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector exposed by a node.
type Metrics struct {
	mu sync.RWMutex

	// Consensus metrics
	roundsTotal      prometheus.Counter       // rounds started, across all heights
	roundDuration    prometheus.Histogram     // propose-to-commit wall time
	blockHeight      prometheus.Gauge         // current committed height
	currentRound     prometheus.Gauge         // round number within current height
	nilVotesTotal    *prometheus.CounterVec   // nil prevotes/precommits cast, by step

	// Message metrics
	messagesSentTotal     *prometheus.CounterVec
	messagesReceivedTotal *prometheus.CounterVec
	messageProcessingTime *prometheus.HistogramVec

	// Block/mempool metrics
	blockApplyTime    prometheus.Histogram
	transactionsTotal prometheus.Counter
	mempoolSize       prometheus.Gauge
	txsRejectedTotal  *prometheus.CounterVec

	// Internal tracking
	roundStartTimes map[uint64]time.Time
}

// New creates a Metrics instance and registers every collector under
// namespace (e.g. "miniroha").
func New(namespace string) *Metrics {
	m := &Metrics{roundStartTimes: make(map[uint64]time.Time)}

	m.roundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "consensus_rounds_total",
		Help: "Total number of consensus rounds started",
	})
	m.roundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "consensus_round_duration_seconds",
		Help:    "Time from round start to commit",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	m.blockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "block_height", Help: "Current committed block height",
	})
	m.currentRound = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "consensus_round", Help: "Current round within the height being decided",
	})
	m.nilVotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "consensus_nil_votes_total", Help: "Nil votes cast, by step",
	}, []string{"step"})

	m.messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "messages_sent_total", Help: "Consensus messages sent, by type",
	}, []string{"type"})
	m.messagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "messages_received_total", Help: "Consensus messages received, by type",
	}, []string{"type"})
	m.messageProcessingTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "message_processing_seconds", Help: "Time to process a consensus message, by type",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"type"})

	m.blockApplyTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "block_apply_seconds", Help: "Time to atomically apply a committed block",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.transactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "transactions_committed_total", Help: "Total transactions successfully committed",
	})
	m.mempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "mempool_size", Help: "Current number of pooled transactions",
	})
	m.txsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "transactions_rejected_total", Help: "Transactions rejected at submission, by error code",
	}, []string{"code"})

	prometheus.MustRegister(
		m.roundsTotal, m.roundDuration, m.blockHeight, m.currentRound, m.nilVotesTotal,
		m.messagesSentTotal, m.messagesReceivedTotal, m.messageProcessingTime,
		m.blockApplyTime, m.transactionsTotal, m.mempoolSize, m.txsRejectedTotal,
	)
	return m
}

// StartRound records the start time of the round for height.
func (m *Metrics) StartRound(height uint64) {
	m.roundsTotal.Inc()
	m.mu.Lock()
	m.roundStartTimes[height] = time.Now()
	m.mu.Unlock()
}

// EndRound records round duration once height commits.
func (m *Metrics) EndRound(height uint64) {
	m.mu.Lock()
	start, ok := m.roundStartTimes[height]
	if ok {
		delete(m.roundStartTimes, height)
	}
	m.mu.Unlock()
	if ok {
		m.roundDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) SetBlockHeight(height uint64)  { m.blockHeight.Set(float64(height)) }
func (m *Metrics) SetRound(round uint64)         { m.currentRound.Set(float64(round)) }
func (m *Metrics) IncrementNilVote(step string)  { m.nilVotesTotal.WithLabelValues(step).Inc() }

func (m *Metrics) IncrementMessagesSent(msgType string)     { m.messagesSentTotal.WithLabelValues(msgType).Inc() }
func (m *Metrics) IncrementMessagesReceived(msgType string) { m.messagesReceivedTotal.WithLabelValues(msgType).Inc() }
func (m *Metrics) RecordMessageProcessingTime(msgType string, d time.Duration) {
	m.messageProcessingTime.WithLabelValues(msgType).Observe(d.Seconds())
}

func (m *Metrics) RecordBlockApplyTime(d time.Duration) { m.blockApplyTime.Observe(d.Seconds()) }
func (m *Metrics) AddCommittedTransactions(count int)   { m.transactionsTotal.Add(float64(count)) }
func (m *Metrics) SetMempoolSize(size int)              { m.mempoolSize.Set(float64(size)) }
func (m *Metrics) IncrementTxRejected(code string)      { m.txsRejectedTotal.WithLabelValues(code).Inc() }

// Server exposes /metrics for Prometheus scraping.
type Server struct {
	server *http.Server
}

// NewServer builds (without starting) a metrics HTTP server on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return nil
}

// Stop gracefully closes the server.
func (s *Server) Stop() error {
	return s.server.Close()
}
