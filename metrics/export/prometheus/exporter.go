package prometheus

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/brewline/cafeauth"
	"github.com/brewline/cafeauth/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() cafeauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine metrics on demand. It holds no state of its own.
type Exporter struct {
	source metricsSource
}

func NewExporter(engine *cafeauth.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the exposition text. An engine with metrics disabled
// yields an empty 200.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		bw := bufio.NewWriter(w)
		_ = e.WriteTo(bw)
		_ = bw.Flush()
	})
}

// Render returns the exposition text, or "" when metrics are disabled and
// nothing was dropped.
func (e *Exporter) Render() string {
	var buf bytes.Buffer
	_ = e.WriteTo(&buf)
	return buf.String()
}

// WriteTo streams every series to w.
func (e *Exporter) WriteTo(w io.Writer) error {
	if e == nil || e.source == nil {
		return nil
	}
	snap := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	pw := &writer{w: w}
	for _, def := range internaldefs.CounterDefs {
		pw.counter(def.Name, def.Help, snap.Counters[def.ID])
	}
	pw.histogram(internaldefs.LatencyName, internaldefs.LatencyHelp, internaldefs.LatencyFrom(snap))
	pw.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, dropped)
	return pw.err
}

// writer keeps the first write error and ignores everything after it.
type writer struct {
	w   io.Writer
	err error
}

func (p *writer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *writer) header(name, help, kind string) {
	p.printf("# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func (p *writer) counter(name, help string, v uint64) {
	p.header(name, help, "counter")
	p.printf("%s %d\n", name, v)
}

func (p *writer) histogram(name, help string, l internaldefs.Latency) {
	p.header(name, help, "histogram")
	for i, le := range internaldefs.BucketLabels() {
		p.printf("%s_bucket{le=%q} %d\n", name, le, l.Cumulative[i])
	}
	p.printf("%s_sum %s\n", name, strconv.FormatFloat(l.Seconds, 'g', -1, 64))
	p.printf("%s_count %d\n", name, l.Count)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
