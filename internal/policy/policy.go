// Package policy implements the pure policy evaluator (spec §4.7): a
// declarative document of rules over a request context, enforcement
// profiles supplying defaults when no rule matches, canonical purpose
// tokens with legacy mappings, and the two HTTP status ladders the
// evaluator's decisions drive. Grounded in shape on the teacher's
// config-driven rule matching (internal/config), adapted from TripWire's
// severity rules to purpose/subject rules.
package policy

// Decision is the evaluator's output for a request.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionDeny   Decision = "deny"
	DecisionReview Decision = "review"
)

// Purpose is a canonical declared-purpose token (spec §4.7).
type Purpose string

const (
	PurposeTrain      Purpose = "train"
	PurposeSearch     Purpose = "search"
	PurposeUserAction Purpose = "user_action"
	PurposeInference  Purpose = "inference"
	PurposeIndex      Purpose = "index"
)

// legacyPurposeMap preserves pre-canonical purpose tokens (spec §4.7
// "Legacy mappings (must be preserved)").
var legacyPurposeMap = map[string]Purpose{
	"crawl":    PurposeIndex,
	"ai_input": PurposeInference,
	"ai_index": PurposeIndex,
}

var canonicalPurposes = map[Purpose]bool{
	PurposeTrain:      true,
	PurposeSearch:     true,
	PurposeUserAction: true,
	PurposeInference:  true,
	PurposeIndex:      true,
}

// NormalizePurpose maps a declared purpose token to its canonical form,
// applying legacy aliases first. ok is false if token is neither a
// canonical purpose nor a recognised legacy alias.
func NormalizePurpose(token string) (purpose Purpose, ok bool) {
	if legacy, found := legacyPurposeMap[token]; found {
		return legacy, true
	}
	p := Purpose(token)
	if canonicalPurposes[p] {
		return p, true
	}
	return "", false
}

// LicensingMode is the declared licensing posture of a request.
type LicensingMode string

// Subject describes the requester the policy is evaluated against.
type Subject struct {
	Type   string
	Labels []string
}

// Context is the request context a policy document is evaluated against
// (spec §4.7: "declared purpose tokens, subject type+labels, licensing
// mode").
type Context struct {
	DeclaredPurposes []string
	Subject          Subject
	LicensingMode    LicensingMode
	HasVerifiedReceipt bool
}

// Rule is one entry in a Document's rule list (spec §4.7).
type Rule struct {
	Name          string   `yaml:"name"`
	Subject       *string  `yaml:"subject,omitempty"`
	Purpose       *string  `yaml:"purpose,omitempty"`
	LicensingMode *string  `yaml:"licensing_mode,omitempty"`
	Decision      Decision `yaml:"decision"`
	Reason        string   `yaml:"reason"`
}

// Defaults is the fallback decision/reason applied when no rule matches.
type Defaults struct {
	Decision Decision `yaml:"decision"`
	Reason   string   `yaml:"reason"`
}

// Document is the declarative policy document the evaluator interprets
// (spec §4.7).
type Document struct {
	Version  string   `yaml:"version"`
	Defaults Defaults `yaml:"defaults"`
	Rules    []Rule   `yaml:"rules"`
}

// Outcome is the result of evaluating a Context against a Document and
// Profile.
type Outcome struct {
	Decision      Decision
	Reason        string
	MatchedRule   string
	UnknownToken  bool
	UndeclaredPurpose bool
}

func (r Rule) matches(ctx Context, purpose string) bool {
	if r.Subject != nil && *r.Subject != ctx.Subject.Type {
		return false
	}
	if r.Purpose != nil && *r.Purpose != purpose {
		return false
	}
	if r.LicensingMode != nil && *r.LicensingMode != string(ctx.LicensingMode) {
		return false
	}
	return true
}

// Evaluate runs ctx against doc. When no rule matches an explicit purpose it
// falls back to doc's defaults, or, if doc sets no default decision, to
// profile's undeclared-purpose outcome. A request with no declared purpose
// or an unrecognised one gets profile's undeclared/unknown handling
// (spec §4.7).
func Evaluate(doc Document, profile Profile, ctx Context) Outcome {
	if len(ctx.DeclaredPurposes) == 0 {
		return profile.undeclaredOutcome()
	}

	for _, token := range ctx.DeclaredPurposes {
		purpose, ok := NormalizePurpose(token)
		if !ok {
			return profile.unknownTokenOutcome()
		}
		for _, rule := range doc.Rules {
			if rule.matches(ctx, string(purpose)) {
				return Outcome{Decision: rule.Decision, Reason: rule.Reason, MatchedRule: rule.Name}
			}
		}
	}

	if doc.Defaults.Decision != "" {
		return Outcome{Decision: doc.Defaults.Decision, Reason: doc.Defaults.Reason}
	}
	return profile.undeclaredOutcome()
}
