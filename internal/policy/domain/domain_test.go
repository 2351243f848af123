package domain

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		action   Action
		explicit RiskLevel
		want     RiskLevel
	}{
		{ActionModifyMFA, "", RiskHigh},
		{ActionDeleteAccount, "", RiskHigh},
		{ActionTestAPI, "", RiskMedium},
		{ActionLogout, "", RiskMedium},
		{ActionAccessHome, "", RiskLow},
		{Action("unlisted"), "", RiskLow},
		{ActionAccessHome, RiskHigh, RiskHigh},
		{ActionModifyMFA, RiskLow, RiskLow},
		{ActionTestAPI, RiskLevel("bogus"), RiskMedium},
	}
	for _, tt := range tests {
		if got := Classify(tt.action, tt.explicit); got != tt.want {
			t.Errorf("Classify(%q, %q) = %q, want %q", tt.action, tt.explicit, got, tt.want)
		}
	}
}

func TestAction_Known(t *testing.T) {
	if !ActionChangePhone.Known() {
		t.Error("change_phone should be known")
	}
	if Action("launch_rocket").Known() {
		t.Error("launch_rocket should not be known")
	}
}

func TestAction_RateLimit(t *testing.T) {
	tests := map[Action]int{
		ActionModifyMFA:    2,
		ActionSecureAction: 5,
		ActionTestAPI:      10,
		ActionViewMap:      DefaultRateLimit,
		Action("other"):    DefaultRateLimit,
	}
	for a, want := range tests {
		if got := a.RateLimit(); got != want {
			t.Errorf("%s.RateLimit() = %d, want %d", a, got, want)
		}
	}
}

func TestRiskLevel_SessionTimeout(t *testing.T) {
	tests := map[RiskLevel]time.Duration{
		RiskLow:    24 * time.Hour,
		RiskMedium: 8 * time.Hour,
		RiskHigh:   2 * time.Hour,
		"unknown":  2 * time.Hour,
	}
	for r, want := range tests {
		if got := r.SessionTimeout(); got != want {
			t.Errorf("%q.SessionTimeout() = %v, want %v", r, got, want)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	if r, ok := ParseRiskLevel(" HIGH "); !ok || r != RiskHigh {
		t.Errorf("ParseRiskLevel(HIGH) = %q, %v", r, ok)
	}
	if _, ok := ParseRiskLevel("critical"); ok {
		t.Error("critical should not parse")
	}
}
