package observ

import (
	"fmt"
	"strings"
	"time"
)

// Phase names a stage of a resolve run.
type Phase uint8

const (
	PhaseLoad    Phase = iota + 1 // manifest decoding and graph build
	PhaseResolve                  // cache lookup and alignment resolution
	PhaseOutput                   // rendering results
)

var phaseNames = [...]string{
	PhaseLoad:    "load",
	PhaseResolve: "resolve",
	PhaseOutput:  "output",
}

func (p Phase) String() string {
	if p == 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", p)
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if p == 0 || int(p) >= len(phaseNames) {
		return nil, fmt.Errorf("observ: invalid phase %d", p)
	}
	return []byte(phaseNames[p]), nil
}

// Stats is what a phase worked on. Zero fields are omitted from reports.
type Stats struct {
	Types    int    // nodes in the loaded graph
	Roots    int    // types requested for resolution
	Computed uint64 // resolver computations performed
	CacheHit bool   // results came from the on-disk cache
}

func (s Stats) describe() string {
	var parts []string
	if s.Types > 0 {
		parts = append(parts, fmt.Sprintf("%d types", s.Types))
	}
	if s.Roots > 0 {
		parts = append(parts, fmt.Sprintf("%d roots", s.Roots))
	}
	if s.CacheHit {
		parts = append(parts, "cache hit")
	} else if s.Computed > 0 {
		parts = append(parts, fmt.Sprintf("%d computed", s.Computed))
	}
	return strings.Join(parts, ", ")
}

type record struct {
	phase Phase
	start time.Time
	dur   time.Duration
	stats Stats
}

// Timer records the phases of one run. Not safe for concurrent use.
type Timer struct {
	records []record
	now     func() time.Time
}

// NewTimer creates a Timer on the wall clock.
func NewTimer() *Timer {
	return &Timer{records: make([]record, 0, 3), now: time.Now}
}

// Begin starts p and returns a handle for End.
func (t *Timer) Begin(p Phase) int {
	t.records = append(t.records, record{phase: p, start: t.now()})
	return len(t.records) - 1
}

// End closes the phase behind idx. Unknown handles are ignored.
func (t *Timer) End(idx int, stats Stats) {
	if idx < 0 || idx >= len(t.records) {
		return
	}
	r := &t.records[idx]
	r.dur = t.now().Sub(r.start)
	r.stats = stats
}

// PhaseReport is one phase of a Report.
type PhaseReport struct {
	Phase      Phase   `json:"phase"`
	DurationMS float64 `json:"duration_ms"`
	Types      int     `json:"types,omitempty"`
	Roots      int     `json:"roots,omitempty"`
	Computed   uint64  `json:"computed,omitempty"`
	CacheHit   bool    `json:"cache_hit,omitempty"`
}

// Report is the serializable timing summary of a run.
type Report struct {
	TotalMS  float64       `json:"total_ms"`
	CacheHit bool          `json:"cache_hit"`
	Phases   []PhaseReport `json:"phases"`
}

// Report snapshots every phase recorded so far.
func (t *Timer) Report() Report {
	report := Report{Phases: make([]PhaseReport, 0, len(t.records))}
	var total time.Duration
	for _, r := range t.records {
		total += r.dur
		report.CacheHit = report.CacheHit || r.stats.CacheHit
		report.Phases = append(report.Phases, PhaseReport{
			Phase:      r.phase,
			DurationMS: millis(r.dur),
			Types:      r.stats.Types,
			Roots:      r.stats.Roots,
			Computed:   r.stats.Computed,
			CacheHit:   r.stats.CacheHit,
		})
	}
	report.TotalMS = millis(total)
	return report
}

// Summary renders the phases for --timings on a terminal.
func (t *Timer) Summary() string {
	var sb strings.Builder
	sb.WriteString("timings:\n")
	var total time.Duration
	for _, r := range t.records {
		total += r.dur
		fmt.Fprintf(&sb, "  %-8s %9.3f ms", r.phase, millis(r.dur))
		if d := r.stats.describe(); d != "" {
			sb.WriteString("  (" + d + ")")
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  %-8s %9.3f ms\n", "total", millis(total))
	return sb.String()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
