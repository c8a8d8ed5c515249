package policy

// HTTPResult pairs a status code with any headers the caller must set.
type HTTPResult struct {
	StatusCode int
	Headers    map[string]string
}

const receiptChallengeHeader = `PEAC realm="receipt", error="receipt_required"`

// HTTPStatusGeneral maps a Decision to an HTTP status using the general
// enforcement ladder (spec §4.7): allow→200, deny→403, review→402 (unless
// a verified receipt is already presented, in which case review→200).
//
// This ladder and HTTPStatusPurpose are deliberately two separate
// functions, not one parameterised function, so that a future change to
// one can never silently alter the other (spec §4.7 "MUST NOT be
// confused").
func HTTPStatusGeneral(decision Decision, hasVerifiedReceipt bool) HTTPResult {
	switch decision {
	case DecisionAllow:
		return HTTPResult{StatusCode: 200}
	case DecisionDeny:
		return HTTPResult{StatusCode: 403}
	case DecisionReview:
		if hasVerifiedReceipt {
			return HTTPResult{StatusCode: 200}
		}
		return HTTPResult{StatusCode: 402, Headers: map[string]string{"WWW-Authenticate": receiptChallengeHeader}}
	default:
		return HTTPResult{StatusCode: 400}
	}
}

// HTTPStatusPurpose maps a Decision to an HTTP status using the purpose
// enforcement ladder (spec §4.7, "the hard invariant"): allow→200,
// deny→403, review→403, invalid token→400. Purpose enforcement never
// produces 402; 402 is reserved for receipt/payment challenges handled by
// HTTPStatusGeneral.
func HTTPStatusPurpose(decision Decision, invalidToken bool) HTTPResult {
	if invalidToken {
		return HTTPResult{StatusCode: 400}
	}
	switch decision {
	case DecisionAllow:
		return HTTPResult{StatusCode: 200}
	case DecisionDeny, DecisionReview:
		return HTTPResult{StatusCode: 403}
	default:
		return HTTPResult{StatusCode: 400}
	}
}
