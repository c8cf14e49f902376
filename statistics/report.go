package statistics

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	timeLayout    = "2006-01-02 15:04:05"
	statusRule    = "============================================="
	patternsRule  = "=========================="
	labelColWidth = 20
)

// Report is the machine readable form of --status and --patterns output.
type Report struct {
	ISP     string    `json:"isp"`
	Summary *Summary  `json:"summary,omitempty"`
	Hours   []HourBin `json:"hours,omitempty"`
	Skipped int       `json:"skipped_lines,omitempty"`
}

func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func row(w io.Writer, label string, format string, args ...interface{}) {
	fmt.Fprintf(w, "%-*s "+format+"\n", append([]interface{}{labelColWidth, label}, args...)...)
}

// WriteStatus prints the origin label, the summary and its time range with
// timestamps rendered in loc.
func WriteStatus(w io.Writer, isp string, s Summary, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	fmt.Fprintln(&b, "ISP:", isp)
	fmt.Fprintln(&b, "Statistics:")
	fmt.Fprintln(&b, statusRule)
	row(&b, "Average Latency:", "%.2f ms", s.Mean)
	row(&b, "Min Latency:", "%.2f ms", s.Min)
	row(&b, "Max Latency:", "%.2f ms", s.Max)
	row(&b, "Standard Deviation:", "%.2f", s.StdDev)
	row(&b, "Total Pings:", "%d", s.Count)
	row(&b, "Lost Pings:", "%d", s.Lost)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Time Range:")
	fmt.Fprintln(&b, statusRule)
	row(&b, "Start Time:", "%s", s.First.In(loc).Format(timeLayout))
	row(&b, "End Time:", "%s", s.Last.In(loc).Format(timeLayout))

	_, err := io.WriteString(w, b.String())
	return err
}

// WritePatterns prints one block per hourly bin.
func WritePatterns(w io.Writer, bins []HourBin) error {
	var b strings.Builder
	fmt.Fprintln(&b, "Latency Patterns by Hour:")
	fmt.Fprintln(&b, patternsRule)
	for _, bin := range bins {
		fmt.Fprintf(&b, "Hour: %02d:00 - %02d:59\n", bin.Hour, bin.Hour)
		fmt.Fprintf(&b, "Average Latency: %.2f ms\n", bin.Mean())
		fmt.Fprintf(&b, "Lost Pings: %d\n", bin.Lost)
		fmt.Fprintln(&b, patternsRule)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
