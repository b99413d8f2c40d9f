package daemon

import (
	"sync"

	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
)

type Metrics struct {
	LinesRead           int
	InterruptedReads    int
	TelegramsFramed     int
	DeliveriesSucceeded int
	DeliveriesFailed    int
	mu                  sync.RWMutex
}

func (m *Metrics) IncLinesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesRead++
}

func (m *Metrics) IncInterruptedReads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InterruptedReads++
}

func (m *Metrics) IncTelegramsFramed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TelegramsFramed++
}

// RecordOutcome counts one delivery attempt. Called concurrently when
// fan-out runs in parallel.
func (m *Metrics) RecordOutcome(outcome dsmr.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome.OK() {
		m.DeliveriesSucceeded++
	} else {
		m.DeliveriesFailed++
	}
}

func (m *Metrics) GetMetricsStamp() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		LinesRead:           m.LinesRead,
		InterruptedReads:    m.InterruptedReads,
		TelegramsFramed:     m.TelegramsFramed,
		DeliveriesSucceeded: m.DeliveriesSucceeded,
		DeliveriesFailed:    m.DeliveriesFailed,
	}
}

func (m *Metrics) GetFailureRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.DeliveriesSucceeded + m.DeliveriesFailed
	if total == 0 {
		return 0
	}
	return float64(m.DeliveriesFailed) / float64(total)
}
