package decision

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		action string
		def    string
		want   string
	}{
		{"APPROVE", Decline, Approve},
		{"allow", Decline, Approve},
		{"Accept", Decline, Approve},
		{"DECLINE", Approve, Decline},
		{"deny", Approve, Decline},
		{"BLOCK", Approve, Decline},
		{"reject", Approve, Decline},
		{"REVIEW", Approve, Review},
		{"challenge", Approve, Review},
		{"HOLD", Approve, Review},
		{"", Approve, Approve},
		{"", Decline, Decline},
		{"  approve  ", Decline, Approve},
		// Unknown labels pass through uppercased so action-defined outcomes
		// survive the pipeline.
		{"step_up", Approve, "STEP_UP"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.action, tc.def); got != tc.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tc.action, tc.def, got, tc.want)
		}
	}
}

func TestNewDecisionShell(t *testing.T) {
	dec := New("txn-1", EvalAuth)
	if dec.DecisionID == "" {
		t.Error("decision id must be assigned")
	}
	if dec.TransactionID != "txn-1" || dec.EvaluationType != EvalAuth {
		t.Errorf("identity = %s/%s", dec.TransactionID, dec.EvaluationType)
	}
	if dec.EngineMode != ModeNormal {
		t.Errorf("EngineMode = %q, want NORMAL", dec.EngineMode)
	}
	if dec.MatchedRules == nil || len(dec.MatchedRules) != 0 {
		t.Error("MatchedRules must be empty, not nil")
	}
	if dec.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestAddVelocityResult(t *testing.T) {
	dec := New("txn-1", EvalAuth)
	dec.AddVelocityResult("r-1", VelocityResult{Exceeded: true, Count: 6, Threshold: 5})
	dec.AddVelocityResult("r-2", VelocityResult{Count: 1, Threshold: 5})

	if len(dec.Velocity) != 2 {
		t.Fatalf("velocity results = %d, want 2", len(dec.Velocity))
	}
	if !dec.Velocity["r-1"].Exceeded || dec.Velocity["r-2"].Exceeded {
		t.Errorf("results = %+v", dec.Velocity)
	}
}
