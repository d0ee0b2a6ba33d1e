package observability

import (
	"math"
	"sync"
	"time"

	"github.com/antoniostano/aura/internal/protocol"
)

// MediaQualityStats summarizes one media kind over the retained window.
type MediaQualityStats struct {
	Samples          int     `json:"samples"`
	LastBitrate      float64 `json:"last_bitrate"`
	AvgBitrate       float64 `json:"avg_bitrate"`
	MaxPacketsLost   float64 `json:"max_packets_lost"`
	LastRoundTripMS  float64 `json:"last_round_trip_ms"`
	AvgRoundTripMS   float64 `json:"avg_round_trip_ms"`
	WorstRoundTripMS float64 `json:"worst_round_trip_ms"`
}

// QualitySnapshot is the JSON shape served by the quality endpoint.
type QualitySnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	WindowSize  int               `json:"window_size"`
	Audio       MediaQualityStats `json:"audio"`
	Video       MediaQualityStats `json:"video"`
}

// QualityWindow keeps a bounded ring of call-quality telemetry so the UI can
// show a short trend without any durable storage.
type QualityWindow struct {
	mu         sync.RWMutex
	maxSamples int
	values     []protocol.CallQuality
	next       int
	filled     bool
	last       protocol.CallQuality
}

func NewQualityWindow(maxSamples int) *QualityWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &QualityWindow{
		maxSamples: maxSamples,
		values:     make([]protocol.CallQuality, maxSamples),
	}
}

func (w *QualityWindow) Observe(q protocol.CallQuality) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[w.next] = q
	w.last = q
	w.next++
	if w.next >= len(w.values) {
		w.next = 0
		w.filled = true
	}
}

func (w *QualityWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = make([]protocol.CallQuality, w.maxSamples)
	w.next = 0
	w.filled = false
	w.last = protocol.CallQuality{}
}

func (w *QualityWindow) Snapshot() QualitySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := w.next
	if w.filled {
		n = len(w.values)
	}
	snap := QualitySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
	}
	if n == 0 {
		return snap
	}

	snap.Audio = summarize(w.values[:n], w.last, func(q protocol.CallQuality) protocol.MediaQuality { return q.Audio })
	snap.Video = summarize(w.values[:n], w.last, func(q protocol.CallQuality) protocol.MediaQuality { return q.Video })
	return snap
}

func summarize(values []protocol.CallQuality, last protocol.CallQuality, pick func(protocol.CallQuality) protocol.MediaQuality) MediaQualityStats {
	var bitrateSum, rttSum, worstRTT, maxLost float64
	for _, q := range values {
		m := pick(q)
		bitrateSum += m.Bitrate
		rttSum += m.RoundTripTime
		worstRTT = math.Max(worstRTT, m.RoundTripTime)
		maxLost = math.Max(maxLost, m.PacketsLost)
	}
	n := float64(len(values))
	lastM := pick(last)
	return MediaQualityStats{
		Samples:          len(values),
		LastBitrate:      round2(lastM.Bitrate),
		AvgBitrate:       round2(bitrateSum / n),
		MaxPacketsLost:   maxLost,
		LastRoundTripMS:  round2(lastM.RoundTripTime),
		AvgRoundTripMS:   round2(rttSum / n),
		WorstRoundTripMS: round2(worstRTT),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
