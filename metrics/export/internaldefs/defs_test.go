package internaldefs

import (
	"strings"
	"testing"
)

func TestDefinitionsAreUnique(t *testing.T) {
	seen := map[string]bool{AuditDropped.Name: true}
	ids := map[int]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, Namespace+"_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q does not follow naming", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate metric name %q", def.Name)
		}
		seen[def.Name] = true
		if ids[int(def.ID)] {
			t.Fatalf("duplicate metric id %d", def.ID)
		}
		ids[int(def.ID)] = true
	}
	for _, def := range HistogramDefs {
		if ids[int(def.ID)] {
			t.Fatalf("histogram id %d also exported as counter", def.ID)
		}
	}
}

func TestBuckets(t *testing.T) {
	raw := NormalizeBuckets([]uint64{1, 2, 3})
	if raw != [BucketCount]uint64{1, 2, 3, 0, 0, 0, 0, 0} {
		t.Fatalf("unexpected normalized buckets: %v", raw)
	}

	cum := CumulativeBuckets(NormalizeBuckets([]uint64{1, 1, 1, 1, 1, 1, 1, 1, 99}))
	for i, v := range cum {
		if v != uint64(i+1) {
			t.Fatalf("bucket %d: got %d, want %d", i, v, i+1)
		}
	}
}
