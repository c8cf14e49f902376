package statistics

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/thetooth/linkwatch/store"
)

var ErrNoData = errors.New("no data available")

// Summary aggregates every sample of a store. Lost samples count as 0 ms in
// Mean, Min, Max and StdDev, matching how they are persisted.
type Summary struct {
	Count  int       `json:"count"`
	Lost   int       `json:"lost"`
	Mean   float64   `json:"mean_ms"`
	Min    float64   `json:"min_ms"`
	Max    float64   `json:"max_ms"`
	StdDev float64   `json:"std_dev_ms"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
}

// Summarize computes the population statistics of samples. First and Last
// are taken in store order.
func Summarize(samples []store.Sample) (s Summary, err error) {
	if len(samples) == 0 {
		err = ErrNoData
		return
	}

	s.Count = len(samples)
	s.First = samples[0].Timestamp
	s.Last = samples[len(samples)-1].Timestamp
	s.Min = samples[0].LatencyMs
	s.Max = samples[0].LatencyMs

	var sum float64
	for _, smp := range samples {
		if smp.Lost() {
			s.Lost++
		}
		if smp.LatencyMs < s.Min {
			s.Min = smp.LatencyMs
		}
		if smp.LatencyMs > s.Max {
			s.Max = smp.LatencyMs
		}
		sum += smp.LatencyMs
	}
	s.Mean = sum / float64(s.Count)

	var m2 float64
	for _, smp := range samples {
		d := smp.LatencyMs - s.Mean
		m2 += d * d
	}
	s.StdDev = math.Sqrt(m2 / float64(s.Count))

	return
}

// HourBin groups the samples taken during one hour of the day.
type HourBin struct {
	Hour      int
	Latencies []float64
	Lost      int
}

// Mean latency of the bin, losses included.
func (b HourBin) Mean() float64 {
	if len(b.Latencies) == 0 {
		return 0
	}
	var sum float64
	for _, l := range b.Latencies {
		sum += l
	}
	return sum / float64(len(b.Latencies))
}

func (b HourBin) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Hour  int     `json:"hour"`
		Count int     `json:"count"`
		Mean  float64 `json:"mean_ms"`
		Lost  int     `json:"lost"`
	}{b.Hour, len(b.Latencies), b.Mean(), b.Lost})
}

// BinByHour groups samples by their wall clock hour in loc and returns the
// non-empty bins in ascending hour order.
func BinByHour(samples []store.Sample, loc *time.Location) (bins []HourBin) {
	if loc == nil {
		loc = time.Local
	}

	byHour := map[int]*HourBin{}
	for _, smp := range samples {
		hour := smp.Timestamp.In(loc).Hour()
		b, ok := byHour[hour]
		if !ok {
			b = &HourBin{Hour: hour}
			byHour[hour] = b
		}
		b.Latencies = append(b.Latencies, smp.LatencyMs)
		if smp.Lost() {
			b.Lost++
		}
	}

	for _, b := range byHour {
		bins = append(bins, *b)
	}
	sort.Slice(bins, func(i, j int) bool {
		return bins[i].Hour < bins[j].Hour
	})

	return
}
