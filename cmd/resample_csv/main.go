// Command resample_csv aggregates an OHLCV CSV into a coarser cadence, for
// preparing local fixtures without a warehouse round trip.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"backtest-engine/services/engine"
	"backtest-engine/services/store"
)

func main() {
	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close,volume)")
	out := flag.String("out", "", "Output CSV path")
	src := flag.String("src", "5m", "Source cadence (e.g. 5m)")
	dst := flag.String("dst", "15m", "Target cadence (e.g. 15m)")
	flag.Parse()

	if *in == "" || *out == "" {
		log.Fatal("-in and -out are required")
	}
	srcMin, err := parseMinutes(*src)
	if err != nil {
		log.Fatalf("Bad -src: %v", err)
	}
	dstMin, err := parseMinutes(*dst)
	if err != nil {
		log.Fatalf("Bad -dst: %v", err)
	}
	if dstMin <= 0 || srcMin <= 0 || dstMin%srcMin != 0 {
		log.Fatalf("-dst must be a positive multiple of -src")
	}

	series, err := store.LoadBarsCSV(*in, "resample")
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *in, err)
	}

	resampled := resample(series.Bars, dstMin*60*1000)
	if err := writeCSV(*out, resampled); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	fmt.Printf("Resampled %d %s bars into %d %s bars → %s\n",
		len(series.Bars), *src, len(resampled), *dst, *out)
}

// resample buckets bars into epoch-aligned windows of bucketMs. Input is
// already sorted by timestamp.
func resample(bars []engine.Bar, bucketMs int64) []engine.Bar {
	var out []engine.Bar
	for _, b := range bars {
		start := b.Timestamp - b.Timestamp%bucketMs
		if len(out) == 0 || out[len(out)-1].Timestamp != start {
			nb := b
			nb.Timestamp = start
			out = append(out, nb)
			continue
		}
		cur := &out[len(out)-1]
		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}
	return out
}

func writeCSV(path string, bars []engine.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "timestamp,open,high,low,close,volume")
	for _, b := range bars {
		fmt.Fprintf(w, "%d,%s,%s,%s,%s,%s\n",
			b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return nil
}

func parseMinutes(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "in")
	s = strings.TrimSuffix(s, "m")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unsupported cadence %q", s)
	}
	return int64(n), nil
}
