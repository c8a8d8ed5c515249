package policy

// ProfileName selects one of the three named enforcement profiles (spec
// §4.7).
type ProfileName string

const (
	ProfileStrict   ProfileName = "strict"
	ProfileBalanced ProfileName = "balanced"
	ProfileOpen     ProfileName = "open"
)

// RateLimit is an enforcement profile's default throttling constraint.
type RateLimit struct {
	Requests   int
	WindowSecs int
	RetryAfterSecs int
}

// Profile is the named tuple applied when no rule matches (spec §4.7,
// GLOSSARY "Enforcement profile").
type Profile struct {
	Name               ProfileName
	UndeclaredDecision Decision
	UnknownDecision    Decision
	ReceiptsRequired   bool
	DefaultConstraints *RateLimit
}

// Profiles are the three fixed enforcement profiles from spec §4.7's table.
var Profiles = map[ProfileName]Profile{
	ProfileStrict: {
		Name:               ProfileStrict,
		UndeclaredDecision: DecisionDeny,
		UnknownDecision:    DecisionDeny,
		ReceiptsRequired:   true,
	},
	ProfileBalanced: {
		Name:               ProfileBalanced,
		UndeclaredDecision: DecisionReview,
		UnknownDecision:    DecisionReview,
		ReceiptsRequired:   false,
		DefaultConstraints: &RateLimit{Requests: 100, WindowSecs: 3600, RetryAfterSecs: 60},
	},
	ProfileOpen: {
		Name:               ProfileOpen,
		UndeclaredDecision: DecisionAllow,
		UnknownDecision:    DecisionAllow,
		ReceiptsRequired:   false,
	},
}

// DefaultProfile is "balanced" (spec §4.7 table, "(default)").
const DefaultProfile = ProfileBalanced

func (p Profile) undeclaredOutcome() Outcome {
	reason := "undeclared_default"
	return Outcome{Decision: p.UndeclaredDecision, Reason: reason, UndeclaredPurpose: true}
}

func (p Profile) unknownTokenOutcome() Outcome {
	reason := "unknown_token_default"
	return Outcome{Decision: p.UnknownDecision, Reason: reason, UnknownToken: true}
}
