package policy

import (
	"testing"

	"github.com/solver-ralph/sr/evidence"
)

func TestWaiverApplies(t *testing.T) {
	w := Waiver{
		WaiverID:      "waiver_1",
		Justification: "lint debt accepted for the draft stage",
		Applicability: `oracle_id == "oracle_lint" && stage == "draft"`,
		GrantedBy:     "user1",
	}
	if err := w.Compile(); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	applies, err := w.Applies(Outcome{Condition: "ORACLE_FAILED", OracleID: "oracle_lint", SuiteID: "s", Stage: "draft"})
	if err != nil || !applies {
		t.Errorf("Applies = (%v, %v), want true", applies, err)
	}
	applies, _ = w.Applies(Outcome{Condition: "ORACLE_FAILED", OracleID: "oracle_lint", Stage: "release"})
	if applies {
		t.Error("waiver applied outside its stage")
	}
	applies, _ = w.Applies(Outcome{Condition: "ORACLE_FAILED", OracleID: "oracle_test", Stage: "draft"})
	if applies {
		t.Error("waiver applied to the wrong oracle")
	}
}

func TestIntegrityConditionsNeverWaivable(t *testing.T) {
	w := Waiver{WaiverID: "waiver_all", Applicability: `true`}
	for _, condition := range []string{
		"ORACLE_TAMPER", "ORACLE_GAP", "ORACLE_ENV_MISMATCH",
		"ORACLE_FLAKE", "EVIDENCE_MISSING", "MANIFEST_INVALID",
	} {
		applies, err := w.Applies(Outcome{Condition: condition, OracleID: "o", SuiteID: "s"})
		if err != nil {
			t.Fatalf("Applies failed: %v", err)
		}
		if applies {
			t.Errorf("integrity condition %s was waived", condition)
		}
	}
}

func TestEvaluatorRejectsBadExpressions(t *testing.T) {
	if _, err := NewEvaluator(""); err == nil {
		t.Error("empty expression accepted")
	}
	if _, err := NewEvaluator(`nonsense ==`); err == nil {
		t.Error("unparseable expression accepted")
	}
}

func TestComputeVerification(t *testing.T) {
	required := []string{"oracle_build", "oracle_test", "oracle_lint"}
	results := []evidence.OracleResult{
		{OracleID: "oracle_build", Status: evidence.StatusPass},
		{OracleID: "oracle_test", Status: evidence.StatusPass},
		{OracleID: "oracle_lint", Status: evidence.StatusFail},
	}

	// No waivers: the lint failure fails verification.
	v, err := ComputeVerification("suite_1", "draft", results, required, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusFailed || len(v.FailedOracles) != 1 {
		t.Errorf("unexpected verification: %+v", v)
	}

	// A waiver covering the lint failure yields VERIFIED_WITH_WAIVERS.
	waivers := []Waiver{{
		WaiverID:      "waiver_lint",
		Applicability: `oracle_id == "oracle_lint"`,
	}}
	v, err = ComputeVerification("suite_1", "draft", results, required, waivers)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusVerifiedWithWaivers {
		t.Errorf("status = %s, want VERIFIED_WITH_WAIVERS", v.Status)
	}
	if len(v.WaiversApplied) != 1 || v.WaiversApplied[0] != "waiver_lint" {
		t.Errorf("waivers applied = %v", v.WaiversApplied)
	}

	// All passing: VERIFIED, no waivers consulted.
	results[2].Status = evidence.StatusPass
	v, _ = ComputeVerification("suite_1", "draft", results, required, waivers)
	if v.Status != StatusVerified || len(v.WaiversApplied) != 0 {
		t.Errorf("unexpected verification: %+v", v)
	}

	// An ERROR on a required oracle cannot be waived.
	results[0].Status = evidence.StatusError
	v, _ = ComputeVerification("suite_1", "draft", results, required, []Waiver{{WaiverID: "w", Applicability: `true`}})
	if v.Status != StatusFailed {
		t.Errorf("errored oracle was waived: %+v", v)
	}
}

func TestRouter(t *testing.T) {
	router := DefaultRouter()

	portal, err := router.Portal(Outcome{Condition: "ORACLE_FAILED", OracleID: "o"})
	if err != nil || portal != "ENGINEERING_REVIEW" {
		t.Errorf("Portal = (%s, %v)", portal, err)
	}
	portal, _ = router.Portal(Outcome{Condition: "ORACLE_TAMPER"})
	if portal != "INTEGRITY_REVIEW" {
		t.Errorf("tamper routed to %s", portal)
	}
	portal, _ = router.Portal(Outcome{Condition: "SOMETHING_ELSE"})
	if portal != "OPERATOR_REVIEW" {
		t.Errorf("fallback routed to %s", portal)
	}
}
