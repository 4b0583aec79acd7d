package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// defaultTracked lists the benchmarks and units the gate compares when no
// -track flag is given.
var defaultTracked = map[string][]string{
	"BenchmarkRequestOTP":         {"ns/op", "allocs/op"},
	"BenchmarkVerifyOTPRejected":  {"ns/op", "allocs/op"},
	"BenchmarkRecoveryRoundTrip":  {"ns/op"},
	"BenchmarkMetricsIncParallel": {"ns/op"},
}

// samples maps benchmark name to unit to every value seen across -count runs.
type samples map[string]map[string][]float64

type comparison struct {
	Benchmark string
	Unit      string
	Baseline  float64
	Candidate float64
	Delta     float64
}

type report struct {
	Rows     []comparison
	Failures []string
}

// parseTracked turns "BenchmarkX:ns/op,allocs/op" entries into a tracking map.
func parseTracked(entries []string) (map[string][]string, error) {
	if len(entries) == 0 {
		return defaultTracked, nil
	}
	out := make(map[string][]string, len(entries))
	for _, e := range entries {
		name, units, ok := strings.Cut(e, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(units) == "" {
			return nil, fmt.Errorf("invalid -track entry %q, want Benchmark:unit[,unit]", e)
		}
		for _, u := range strings.Split(units, ",") {
			if u = strings.TrimSpace(u); u != "" {
				out[name] = append(out[name], u)
			}
		}
	}
	return out, nil
}

func parseBenchmarks(r io.Reader, tracked map[string][]string) (samples, error) {
	set := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := stripProcs(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		if set[name] == nil {
			set[name] = map[string][]float64{}
		}
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			set[name][fields[i+1]] = append(set[name][fields[i+1]], v)
		}
	}
	return set, scanner.Err()
}

// compare reports every tracked pair in a stable order. A missing sample or a
// median growth above threshold is a failure.
func compare(baseline, candidate samples, tracked map[string][]string, threshold float64) report {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	sort.Strings(names)

	var rep report
	for _, name := range names {
		for _, unit := range tracked[name] {
			base, cand := baseline[name][unit], candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				rep.Failures = append(rep.Failures, fmt.Sprintf("missing samples for %s %s", name, unit))
				continue
			}
			bm, cm := median(base), median(cand)
			if bm <= 0 {
				rep.Failures = append(rep.Failures, fmt.Sprintf("invalid baseline median for %s %s", name, unit))
				continue
			}
			c := comparison{Benchmark: name, Unit: unit, Baseline: bm, Candidate: cm, Delta: (cm - bm) / bm}
			rep.Rows = append(rep.Rows, c)
			if c.Delta > threshold {
				rep.Failures = append(rep.Failures,
					fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, unit, c.Delta*100, threshold*100))
			}
		}
	}
	return rep
}

func stripProcs(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
