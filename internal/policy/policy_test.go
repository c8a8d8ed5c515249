package policy_test

import (
	"testing"

	"peaccore/internal/policy"
)

func TestNormalizePurpose_LegacyMappings(t *testing.T) {
	cases := map[string]policy.Purpose{
		"crawl":    policy.PurposeIndex,
		"ai_input": policy.PurposeInference,
		"ai_index": policy.PurposeIndex,
		"train":    policy.PurposeTrain,
	}
	for token, want := range cases {
		got, ok := policy.NormalizePurpose(token)
		if !ok {
			t.Fatalf("NormalizePurpose(%q): not ok", token)
		}
		if got != want {
			t.Fatalf("NormalizePurpose(%q) = %q, want %q", token, got, want)
		}
	}
}

func TestNormalizePurpose_Unknown(t *testing.T) {
	if _, ok := policy.NormalizePurpose("not_a_real_purpose"); ok {
		t.Fatal("expected unknown token to be rejected")
	}
}

func TestEvaluate_UndeclaredPurpose_Balanced(t *testing.T) {
	out := policy.Evaluate(policy.Document{}, policy.Profiles[policy.ProfileBalanced], policy.Context{})
	if out.Decision != policy.DecisionReview {
		t.Fatalf("decision = %s, want review", out.Decision)
	}
	if out.Reason != "undeclared_default" {
		t.Fatalf("reason = %s, want undeclared_default", out.Reason)
	}
}

func TestEvaluate_UndeclaredPurpose_Strict(t *testing.T) {
	out := policy.Evaluate(policy.Document{}, policy.Profiles[policy.ProfileStrict], policy.Context{})
	if out.Decision != policy.DecisionDeny {
		t.Fatalf("decision = %s, want deny", out.Decision)
	}
}

func TestEvaluate_UndeclaredPurpose_Open(t *testing.T) {
	out := policy.Evaluate(policy.Document{}, policy.Profiles[policy.ProfileOpen], policy.Context{})
	if out.Decision != policy.DecisionAllow {
		t.Fatalf("decision = %s, want allow", out.Decision)
	}
}

func TestEvaluate_UnknownToken(t *testing.T) {
	ctx := policy.Context{DeclaredPurposes: []string{"bogus"}}
	out := policy.Evaluate(policy.Document{}, policy.Profiles[policy.ProfileBalanced], ctx)
	if !out.UnknownToken {
		t.Fatal("expected UnknownToken=true")
	}
	if out.Decision != policy.DecisionReview {
		t.Fatalf("decision = %s, want review", out.Decision)
	}
}

func TestEvaluate_RuleMatch(t *testing.T) {
	subjType := "bot"
	purpose := "train"
	doc := policy.Document{
		Rules: []policy.Rule{
			{Name: "deny-bot-training", Subject: &subjType, Purpose: &purpose, Decision: policy.DecisionDeny, Reason: "no_training_on_bots"},
		},
	}
	ctx := policy.Context{
		DeclaredPurposes: []string{"train"},
		Subject:          policy.Subject{Type: "bot"},
	}
	out := policy.Evaluate(doc, policy.Profiles[policy.ProfileOpen], ctx)
	if out.Decision != policy.DecisionDeny {
		t.Fatalf("decision = %s, want deny", out.Decision)
	}
	if out.MatchedRule != "deny-bot-training" {
		t.Fatalf("matched rule = %s", out.MatchedRule)
	}
}

func TestHTTPStatusGeneral_ReviewIs402UnlessReceiptVerified(t *testing.T) {
	res := policy.HTTPStatusGeneral(policy.DecisionReview, false)
	if res.StatusCode != 402 {
		t.Fatalf("status = %d, want 402", res.StatusCode)
	}
	if res.Headers["WWW-Authenticate"] == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	res = policy.HTTPStatusGeneral(policy.DecisionReview, true)
	if res.StatusCode != 200 {
		t.Fatalf("status = %d, want 200 when receipt already verified", res.StatusCode)
	}
}

func TestHTTPStatusPurpose_NeverProduces402(t *testing.T) {
	for _, d := range []policy.Decision{policy.DecisionAllow, policy.DecisionDeny, policy.DecisionReview} {
		res := policy.HTTPStatusPurpose(d, false)
		if res.StatusCode == 402 {
			t.Fatalf("purpose enforcement produced 402 for decision %s", d)
		}
	}
	if res := policy.HTTPStatusPurpose(policy.DecisionReview, false); res.StatusCode != 403 {
		t.Fatalf("review status = %d, want 403 under purpose enforcement", res.StatusCode)
	}
	if res := policy.HTTPStatusPurpose(policy.DecisionAllow, true); res.StatusCode != 400 {
		t.Fatalf("invalid token status = %d, want 400", res.StatusCode)
	}
}
