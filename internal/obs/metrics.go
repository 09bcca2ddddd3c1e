package obs

import (
	"sort"
	"strings"
	"sync"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// Summary aggregates histogram observations.
type Summary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Snapshot is a point-in-time copy of a Registry.
type Snapshot struct {
	Counters   map[string]float64 `json:"counters"`
	Histograms map[string]Summary `json:"histograms"`
}

// Registry is an in-memory Meter. Series are keyed by name plus sorted
// labels, e.g. `httpd_requests_total{status="200"}`.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string]Summary
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]float64),
		histograms: make(map[string]Summary),
	}
}

func (r *Registry) Counter(name string, value float64, labels ...Label) {
	k := seriesKey(name, labels)
	r.mu.Lock()
	r.counters[k] += value
	r.mu.Unlock()
}

func (r *Registry) Histogram(name string, value float64, labels ...Label) {
	k := seriesKey(name, labels)
	r.mu.Lock()
	s, ok := r.histograms[k]
	if !ok || value < s.Min {
		s.Min = value
	}
	if !ok || value > s.Max {
		s.Max = value
	}
	s.Count++
	s.Sum += value
	r.histograms[k] = s
	r.mu.Unlock()
}

// Value returns the current value of a counter series.
func (r *Registry) Value(name string, labels ...Label) float64 {
	k := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[k]
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Counters:   make(map[string]float64, len(r.counters)),
		Histograms: make(map[string]Summary, len(r.histograms)),
	}
	for k, v := range r.counters {
		s.Counters[k] = v
	}
	for k, v := range r.histograms {
		s.Histograms[k] = v
	}
	return s
}

func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	ls := append([]Label(nil), labels...)
	sort.Slice(ls, func(i, j int) bool { return ls[i].Key < ls[j].Key })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteString(`="`)
		b.WriteString(l.Value)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
