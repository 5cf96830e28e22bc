// Command ticketauth-benchdiff compares two `go test -bench` outputs and
// fails when a tracked hot-path benchmark regressed past the threshold.
//
//	go test -run '^$' -bench 'Authorize|VerifyToken' -count 5 . > new.txt
//	ticketauth-benchdiff -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// defaultTracked covers the per-request gate path.
const defaultTracked = "BenchmarkAuthorize=ns/op,allocs/op;" +
	"BenchmarkAuthorizeRevoked=ns/op;" +
	"BenchmarkAuthorizePublic=ns/op;" +
	"BenchmarkVerifyToken=ns/op,allocs/op"

// tracked maps a benchmark name to the units compared for it.
type tracked map[string][]string

// samples maps benchmark name to unit to every observed value.
type samples map[string]map[string][]float64

type comparison struct {
	Benchmark string
	Unit      string
	Baseline  float64
	Candidate float64
	Delta     float64
	Missing   bool
}

func main() {
	var (
		baselinePath  = flag.String("baseline", "", "path to baseline benchmark output")
		candidatePath = flag.String("candidate", "", "path to candidate benchmark output")
		threshold     = flag.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
		trackFlag     = flag.String("track", defaultTracked, "benchmarks to compare: Name=unit,unit;Name=unit")
	)
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}
	track, err := parseTracked(*trackFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-track: %v\n", err)
		os.Exit(2)
	}

	baseline, err := readFile(*baselinePath, track)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := readFile(*candidatePath, track)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	results := compare(track, baseline, candidate)
	failures := report(os.Stdout, results, *threshold)
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure)
		}
		os.Exit(1)
	}
}

func parseTracked(raw string) (tracked, error) {
	out := tracked{}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, units, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(units) == "" {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		for _, unit := range strings.Split(units, ",") {
			if unit = strings.TrimSpace(unit); unit != "" {
				out[strings.TrimSpace(name)] = append(out[strings.TrimSpace(name)], unit)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no benchmarks tracked")
	}
	return out, nil
}

func readFile(path string, track tracked) (samples, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parse(file, track)
}

func parse(r io.Reader, track tracked) (samples, error) {
	out := samples{}
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
		if _, ok := track[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], value)
		}
	}
	return out, scanner.Err()
}

func compare(track tracked, baseline, candidate samples) []comparison {
	names := make([]string, 0, len(track))
	for name := range track {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []comparison
	for _, name := range names {
		for _, unit := range track[name] {
			c := comparison{Benchmark: name, Unit: unit}
			base, cand := baseline[name][unit], candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				c.Missing = true
				out = append(out, c)
				continue
			}
			c.Baseline = median(base)
			c.Candidate = median(cand)
			if c.Baseline > 0 {
				c.Delta = (c.Candidate - c.Baseline) / c.Baseline
			} else if c.Candidate > 0 {
				// zero allocs growing to any allocs is a regression
				c.Delta = 1
			}
			out = append(out, c)
		}
	}
	return out
}

func report(w io.Writer, results []comparison, threshold float64) []string {
	var failures []string
	fmt.Fprintln(w, "benchmark unit baseline candidate delta")
	for _, c := range results {
		if c.Missing {
			failures = append(failures, fmt.Sprintf("missing samples for %s %s", c.Benchmark, c.Unit))
			continue
		}
		fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%%\n", c.Benchmark, c.Unit, c.Baseline, c.Candidate, c.Delta*100)
		if c.Delta > threshold {
			failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", c.Benchmark, c.Unit, c.Delta*100, threshold*100))
		}
	}
	return failures
}

// stripProcs drops the -GOMAXPROCS suffix go test appends to names.
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
