package engine

import (
	"errors"
	"math"
	"testing"
)

func TestBuildIndices_SingleYearNoSmoothing(t *testing.T) {
	// one year, mean 1: indices equal the raw pattern
	idx, err := BuildIndices([][]float64{{2, 1, 1, 0}}, 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 1, 1, 0}
	for i := range want {
		if math.Abs(idx[i]-want[i]) > 1e-9 {
			t.Errorf("idx[%d] = %v, want %v", i, idx[i], want[i])
		}
	}
}

func TestBuildIndices_SmoothingExact(t *testing.T) {
	// s = 0.3 over {2,1,1,0}:
	// idx[0] = 0.7*2 + 0.15*(0+1) = 1.55
	// idx[1] = 0.7*1 + 0.15*(2+1) = 1.15
	// idx[2] = 0.7*1 + 0.15*(1+0) = 0.85
	// idx[3] = 0.7*0 + 0.15*(1+2) = 0.45
	idx, err := BuildIndices([][]float64{{2, 1, 1, 0}}, 0.5, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1.55, 1.15, 0.85, 0.45}
	for i := range want {
		if math.Abs(idx[i]-want[i]) > 1e-9 {
			t.Errorf("idx[%d] = %v, want %v", i, idx[i], want[i])
		}
	}
}

func TestBuildIndices_MeanIsOne(t *testing.T) {
	idx, err := BuildIndices([][]float64{
		{10, 2, 1, 3, 8, 12, 20, 15, 6, 2, 1, 4, 9},
		{8, 3, 2, 2, 7, 11, 18, 16, 5, 3, 2, 3, 8},
		{12, 1, 1, 4, 9, 14, 22, 14, 7, 1, 1, 5, 10},
	}, 0.5, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx) != 13 {
		t.Fatalf("len = %d, want 13", len(idx))
	}
	if m := mean(idx); math.Abs(m-1.0) > 1e-9 {
		t.Errorf("mean(indices) = %v, want 1.0", m)
	}
}

func TestBuildIndices_CapsAtFourYears(t *testing.T) {
	// the fifth year is wildly different; it must not contribute
	idx, err := BuildIndices([][]float64{
		{4, 0}, {0, 4}, {0, 4}, {0, 4}, {0, 100},
	}, 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	// first four years composite to a flat {2, 2} line
	for i, v := range idx {
		if math.Abs(v-1.0) > 1e-9 {
			t.Errorf("idx[%d] = %v, want 1.0", i, v)
		}
	}
}

func TestBuildIndices_Validation(t *testing.T) {
	if _, err := BuildIndices(nil, 0.5, 0.3); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := BuildIndices([][]float64{{1, 2}, {1, 2, 3}}, 0.5, 0.3); !errors.Is(err, ErrValidation) {
		t.Errorf("ragged years: err = %v, want ErrValidation", err)
	}
	if _, err := BuildIndices([][]float64{{0, 0, 0, 0}}, 0.5, 0.3); !errors.Is(err, ErrValidation) {
		t.Errorf("zero demand: err = %v, want ErrValidation", err)
	}
}

func TestSeasonalize_Deseasonalize_RoundTrip(t *testing.T) {
	prof := &Profile{ProfileID: "P1", Periodicity: 4, Indices: []float64{1.5, 1.2, 0.8, 0.5}}
	base := 80.0
	for p := 1; p <= 4; p++ {
		up := Seasonalize(base, prof, p)
		back := Deseasonalize(up, prof, p)
		if math.Abs(back-base) > 1e-9 {
			t.Errorf("period %d: round trip %v -> %v -> %v", p, base, up, back)
		}
	}
}

func TestProfileIndex_OutOfRange(t *testing.T) {
	prof := &Profile{Indices: []float64{1.5, 0.5}}
	if got := prof.Index(0); got != 1 {
		t.Errorf("Index(0) = %v, want 1", got)
	}
	if got := prof.Index(3); got != 1 {
		t.Errorf("Index(3) = %v, want 1", got)
	}
	var nilProf *Profile
	if got := nilProf.Index(1); got != 1 {
		t.Errorf("nil profile Index = %v, want 1", got)
	}
}

func TestAdoptProfile_Deseasonalizes(t *testing.T) {
	prof := &Profile{ProfileID: "P7", Periodicity: 4, Indices: []float64{2, 1, 0.5, 0.5}}
	sku := &SKU{PeriodForecast: 100}
	AdoptProfile(sku, prof, 1, true)
	if sku.ProfileID != "P7" {
		t.Errorf("ProfileID = %q, want P7", sku.ProfileID)
	}
	if math.Abs(sku.PeriodForecast-50) > 1e-9 {
		t.Errorf("PeriodForecast = %v, want 50", sku.PeriodForecast)
	}
}
