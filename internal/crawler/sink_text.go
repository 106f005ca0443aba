package crawler

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	kickoffLayout = "2006-01-02 15:04:05"
	bannerWidth   = 70
	bannerTitle   = "Betline Prematch Parser"
	eventIndent   = "    "
	marketIndent  = "        "
	runnerIndent  = "            "
)

// TextSink renders events as indented plain text. Each Emit writes its whole
// record with a single Write under a lock, so concurrent producers never
// interleave.
type TextSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTextSink returns a sink writing to out.
func NewTextSink(out io.Writer) *TextSink {
	return &TextSink{out: out}
}

// Emit renders one event together with its ancestry.
func (s *TextSink) Emit(lc LeagueContext, event Event) error {
	var buf bytes.Buffer
	RenderEvent(&buf, lc, event)
	return s.write(buf.Bytes())
}

// Banner writes the run header listing the target sports.
func (s *TextSink) Banner(targets []string) error {
	sep := strings.Repeat("=", bannerWidth)
	var buf bytes.Buffer
	fmt.Fprintln(&buf, sep)
	fmt.Fprintln(&buf, bannerTitle)
	fmt.Fprintf(&buf, "Sports: %s\n", strings.Join(targets, ", "))
	fmt.Fprintln(&buf, sep)
	return s.write(buf.Bytes())
}

// Footer writes the run trailer with the elapsed time in whole seconds.
func (s *TextSink) Footer(elapsed time.Duration) error {
	sep := strings.Repeat("=", bannerWidth)
	var buf bytes.Buffer
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, sep)
	fmt.Fprintf(&buf, "Completed in %d seconds\n", int64(elapsed/time.Second))
	return s.write(buf.Bytes())
}

func (s *TextSink) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(p); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// RenderEvent formats one event record. Closed markets and runners are
// omitted.
func RenderEvent(buf *bytes.Buffer, lc LeagueContext, event Event) {
	buf.WriteByte('\n')
	buf.WriteString(lc.Sport.Name)
	buf.WriteString(", ")
	buf.WriteString(lc.Region.Name)
	buf.WriteByte(' ')
	buf.WriteString(lc.League.Name)
	buf.WriteByte('\n')

	buf.WriteString(eventIndent)
	buf.WriteString(event.Name)
	buf.WriteString(", ")
	buf.WriteString(event.KickoffTime().Format(kickoffLayout))
	buf.WriteString(" UTC, ")
	buf.WriteString(strconv.FormatInt(event.ID, 10))
	buf.WriteByte('\n')

	for _, market := range event.Markets {
		if !market.Open {
			continue
		}
		buf.WriteString(marketIndent)
		buf.WriteString(market.Name)
		buf.WriteByte('\n')
		for _, runner := range market.Runners {
			if !runner.Open {
				continue
			}
			buf.WriteString(runnerIndent)
			buf.WriteString(runner.Name)
			buf.WriteString(", ")
			buf.WriteString(formatPrice(runner.Price))
			buf.WriteString(", ")
			buf.WriteString(strconv.FormatInt(runner.ID, 10))
			buf.WriteByte('\n')
		}
	}
}

// formatPrice prints the shortest decimal form, keeping one fractional digit
// on whole numbers: 3.40 -> 3.4, 2 -> 2.0.
func formatPrice(p decimal.Decimal) string {
	if p.Equal(p.Truncate(0)) {
		return p.StringFixed(1)
	}
	return p.String()
}
