package main

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type OperationType int

const (
	SendOperation OperationType = iota
	HistoryOperation
)

type Stats struct {
	sync.Mutex
	totalRequests    int64
	successRequests  int64
	failedRequests   int64
	droppedEchoes    int64
	totalLatency     time.Duration
	maxLatency       time.Duration
	minLatency       time.Duration
	sendLatencies    []time.Duration
	historyLatencies []time.Duration
}

func (s *Stats) recordSuccess(latency time.Duration, op OperationType) {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.successRequests++
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}

	switch op {
	case SendOperation:
		s.sendLatencies = append(s.sendLatencies, latency)
	case HistoryOperation:
		s.historyLatencies = append(s.historyLatencies, latency)
	}
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.failedRequests++
}

// recordDropped counts sends whose echo never came back before the run ended.
func (s *Stats) recordDropped(n int) {
	s.Lock()
	defer s.Unlock()
	s.totalRequests += int64(n)
	s.failedRequests += int64(n)
	s.droppedEchoes += int64(n)
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *Stats) report(logger *zap.Logger, duration time.Duration) {
	s.Lock()
	defer s.Unlock()

	var avg time.Duration
	if s.successRequests > 0 {
		avg = s.totalLatency / time.Duration(s.successRequests)
	}
	logger.Info("load test results",
		zap.Int64("total", s.totalRequests),
		zap.Int64("succeeded", s.successRequests),
		zap.Int64("failed", s.failedRequests),
		zap.Int64("dropped_echoes", s.droppedEchoes),
		zap.Duration("avg_latency", avg),
		zap.Duration("min_latency", s.minLatency),
		zap.Duration("max_latency", s.maxLatency),
		zap.Duration("p99_send_latency", percentile(s.sendLatencies, 0.99)),
		zap.Duration("p99_history_latency", percentile(s.historyLatencies, 0.99)),
		zap.Float64("ops_per_sec", float64(s.totalRequests)/duration.Seconds()),
		zap.Duration("duration", duration),
	)
}
