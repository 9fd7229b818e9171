package core

import "testing"

func TestDecision_SeverityOrder(t *testing.T) {
	ordered := []Decision{
		DecisionSampledPass,
		DecisionPass,
		DecisionRegenerate,
		DecisionQuarantine,
		DecisionEscalate,
		DecisionBlock,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Severity() <= ordered[i-1].Severity() {
			t.Errorf("Severity(%s) = %d should exceed Severity(%s) = %d",
				ordered[i], ordered[i].Severity(), ordered[i-1], ordered[i-1].Severity())
		}
	}
}

func TestDecision_Rejecting(t *testing.T) {
	for _, d := range []Decision{DecisionRegenerate, DecisionQuarantine, DecisionEscalate, DecisionBlock} {
		if !d.Rejecting() {
			t.Errorf("%s.Rejecting() = false, want true", d)
		}
	}
	for _, d := range []Decision{DecisionPass, DecisionSampledPass} {
		if d.Rejecting() {
			t.Errorf("%s.Rejecting() = true, want false", d)
		}
	}
}

func TestWorseOf(t *testing.T) {
	if got := WorseOf(DecisionPass, DecisionBlock); got != DecisionBlock {
		t.Errorf("WorseOf(pass, block) = %s, want block", got)
	}
	if got := WorseOf(DecisionEscalate, DecisionRegenerate); got != DecisionEscalate {
		t.Errorf("WorseOf(escalate, regenerate) = %s, want escalate", got)
	}
	if got := WorseOf(DecisionQuarantine, DecisionQuarantine); got != DecisionQuarantine {
		t.Errorf("WorseOf(quarantine, quarantine) = %s, want quarantine", got)
	}
}

func TestOneBandWorse(t *testing.T) {
	tests := []struct {
		in, want Decision
	}{
		{DecisionPass, DecisionRegenerate},
		{DecisionRegenerate, DecisionQuarantine},
		{DecisionQuarantine, DecisionEscalate},
		{DecisionEscalate, DecisionBlock},
		{DecisionBlock, DecisionBlock},
		{DecisionSampledPass, DecisionSampledPass},
	}
	for _, tt := range tests {
		if got := OneBandWorse(tt.in); got != tt.want {
			t.Errorf("OneBandWorse(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestValidDecision(t *testing.T) {
	for _, d := range []Decision{DecisionPass, DecisionBlock, DecisionSampledPass} {
		if !ValidDecision(d) {
			t.Errorf("ValidDecision(%s) = false", d)
		}
	}
	if ValidDecision("approve") {
		t.Error("ValidDecision(approve) = true, want false")
	}
}
