package demand

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadArrivalRatesFile(t *testing.T) {
	path := writeFile(t, "rates.json", `{
		"northbound": {
			"9769": {"3": {"1": {"1": 0.05, "2": 0.02}}},
			"9770": {"3": {"1": {"1": 0.04}}}
		}
	}`)
	table, err := LoadArrivalRatesFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 3 {
		t.Fatalf("cells = %d, want 3", table.Len())
	}
	got := table.Rate(RateKey{Direction: "northbound", Stop: "9769", Month: 3, Weekday: 1, Daypart: "1"})
	if got != 0.05 {
		t.Fatalf("rate = %v, want 0.05", got)
	}
	if !table.HasStop("northbound", "9770") {
		t.Fatal("HasStop(9770) = false")
	}
	if table.HasStop("southbound", "9769") {
		t.Fatal("HasStop for wrong direction = true")
	}
	// Undefined cells read as zero.
	if got := table.Rate(RateKey{Direction: "northbound", Stop: "9769", Month: 4, Weekday: 1, Daypart: "1"}); got != 0 {
		t.Fatalf("missing cell = %v, want 0", got)
	}
}

func TestLoadArrivalRatesFileBadKeys(t *testing.T) {
	path := writeFile(t, "rates.json", `{"northbound": {"9769": {"march": {"1": {"1": 0.05}}}}}`)
	if _, err := LoadArrivalRatesFile(path); err == nil {
		t.Fatal("expected error for non-numeric month key")
	}
}

func TestLoadWeightsFile(t *testing.T) {
	path := writeFile(t, "weights.json", `{
		"northbound": {"3": {"1": {"1": [0.0, 0.2, 0.3, 0.5]}}}
	}`)
	table, err := LoadWeightsFile(path)
	if err != nil {
		t.Fatal(err)
	}
	vec := table.Weights(WeightKey{Direction: "northbound", Month: 3, Weekday: 1, Daypart: "1"})
	if len(vec) != 4 || vec[3] != 0.5 {
		t.Fatalf("vector = %v", vec)
	}
	if table.Weights(WeightKey{Direction: "southbound", Month: 3, Weekday: 1, Daypart: "1"}) != nil {
		t.Fatal("missing vector should be nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadArrivalRatesFile("/nonexistent/rates.json"); err == nil {
		t.Fatal("expected error for missing rates file")
	}
	if _, err := LoadWeightsFile("/nonexistent/weights.json"); err == nil {
		t.Fatal("expected error for missing weights file")
	}
}
