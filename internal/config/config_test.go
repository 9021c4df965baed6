package config

import (
	"testing"
)

func TestDefault_Values(t *testing.T) {
	s := Default()
	if s == nil {
		t.Fatal("Default() returned nil")
	}
	if s.DefaultServiceLevel != 95 {
		t.Errorf("DefaultServiceLevel = %v, want 95", s.DefaultServiceLevel)
	}
	if s.DefaultLeadTime != 14 {
		t.Errorf("DefaultLeadTime = %v, want 14", s.DefaultLeadTime)
	}
	if s.PeriodicityDefault != 13 {
		t.Errorf("PeriodicityDefault = %v, want 13", s.PeriodicityDefault)
	}
	if s.BasicAlphaFactor != 10 {
		t.Errorf("BasicAlphaFactor = %v, want 10", s.BasicAlphaFactor)
	}
	if s.UpdateFrequencyImpact != 0.95 {
		t.Errorf("UpdateFrequencyImpact = %v, want 0.95", s.UpdateFrequencyImpact)
	}
	if s.CarryingCostRate != 0.28 {
		t.Errorf("CarryingCostRate = %v, want 0.28", s.CarryingCostRate)
	}
	if s.OrderAtRiskThreshold != 0.20 {
		t.Errorf("OrderAtRiskThreshold = %v, want 0.20", s.OrderAtRiskThreshold)
	}
	if s.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %v, want 4", s.MaxWorkers)
	}
	if s.HistoryPeriodsToKeep != 39 {
		t.Errorf("HistoryPeriodsToKeep = %v, want 39", s.HistoryPeriodsToKeep)
	}
}
