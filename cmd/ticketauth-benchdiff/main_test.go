package main

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baselineOut = `goos: linux
goarch: amd64
pkg: github.com/MrEthical07/ticketauth
BenchmarkAuthorize-8         	 1000000	      1000 ns/op	     320 B/op	       4 allocs/op
BenchmarkAuthorize-8         	 1000000	      1200 ns/op	     320 B/op	       4 allocs/op
BenchmarkAuthorize-8         	 1000000	      1100 ns/op	     320 B/op	       4 allocs/op
BenchmarkAuthorizePublic-8   	20000000	        50 ns/op	       0 B/op	       0 allocs/op
BenchmarkSomethingElse-8     	20000000	        10 ns/op
PASS
`

const candidateOut = `BenchmarkAuthorize-8         	 1000000	      1500 ns/op	     320 B/op	       4 allocs/op
BenchmarkAuthorize-8         	 1000000	      1500 ns/op	     320 B/op	       4 allocs/op
BenchmarkAuthorizePublic-8   	20000000	        51 ns/op	      16 B/op	       1 allocs/op
`

func TestParseTracked(t *testing.T) {
	track, err := parseTracked(defaultTracked)
	require.NoError(t, err)
	assert.Equal(t, []string{"ns/op", "allocs/op"}, track["BenchmarkAuthorize"])
	assert.Equal(t, []string{"ns/op"}, track["BenchmarkAuthorizeRevoked"])

	_, err = parseTracked("BenchmarkX")
	assert.Error(t, err)
	_, err = parseTracked(" ; ")
	assert.Error(t, err)
}

func TestParseKeepsTrackedOnly(t *testing.T) {
	track := tracked{"BenchmarkAuthorize": {"ns/op"}}
	got, err := parse(strings.NewReader(baselineOut), track)
	require.NoError(t, err)

	assert.Len(t, got, 1)
	assert.Equal(t, []float64{1000, 1200, 1100}, got["BenchmarkAuthorize"]["ns/op"])
	assert.Equal(t, []float64{4, 4, 4}, got["BenchmarkAuthorize"]["allocs/op"])
}

func TestCompareFlagsRegressions(t *testing.T) {
	track := tracked{
		"BenchmarkAuthorize":       {"ns/op", "allocs/op"},
		"BenchmarkAuthorizePublic": {"ns/op", "allocs/op"},
		"BenchmarkVerifyToken":     {"ns/op"},
	}
	baseline, err := parse(strings.NewReader(baselineOut), track)
	require.NoError(t, err)
	candidate, err := parse(strings.NewReader(candidateOut), track)
	require.NoError(t, err)

	results := compare(track, baseline, candidate)
	require.Len(t, results, 5)

	byKey := map[string]comparison{}
	for _, c := range results {
		byKey[c.Benchmark+" "+c.Unit] = c
	}
	assert.Equal(t, 1100.0, byKey["BenchmarkAuthorize ns/op"].Baseline)
	assert.InDelta(t, 0.3636, byKey["BenchmarkAuthorize ns/op"].Delta, 0.001)
	assert.Equal(t, 1.0, byKey["BenchmarkAuthorizePublic allocs/op"].Delta)
	assert.True(t, byKey["BenchmarkVerifyToken ns/op"].Missing)

	failures := report(io.Discard, results, defaultThreshold)
	assert.Len(t, failures, 3)
}

func TestStripProcsAndMedian(t *testing.T) {
	assert.Equal(t, "BenchmarkAuthorize", stripProcs("BenchmarkAuthorize-16"))
	assert.Equal(t, "BenchmarkAuthorize-fast", stripProcs("BenchmarkAuthorize-fast"))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
	assert.Equal(t, 0.0, median(nil))
}
