// Package classify maps heterogeneous provider responses to the
// canonical outcome taxonomy. Classification is a pure function:
// identical inputs always produce identical outputs.
package classify

import (
	"strings"

	"github.com/validly/dispatchd/internal/core/domain"
)

// Synthetic codes for outcomes that carry no explicit provider code.
const (
	CodeSecondaryPassed    = "secondary_check_passed"
	CodeSecondaryUnchecked = "secondary_check_unchecked"
	CodeSecondaryFailed    = "secondary_check_failed"
	CodeNotSentToNetwork   = "not_sent_to_network"
	CodeUnclassifiable     = "unclassifiable"
)

// Input bundles the raw signals a provider response may carry. Any
// field may be empty.
type Input struct {
	ExplicitCode   string
	SecondaryCheck string
	FreeText       string
	NetworkStatus  string
}

// FromRaw builds a classifier input from an adapter's raw outcome.
func FromRaw(raw domain.RawOutcome) Input {
	return Input{
		ExplicitCode:   raw.Code,
		SecondaryCheck: raw.SecondaryCheck,
		FreeText:       raw.Message,
		NetworkStatus:  raw.NetworkStatus,
	}
}

// Classify resolves a raw provider response to a canonical outcome.
// Precedence, first match wins:
//
//  1. Explicit code known to the static table.
//  2. Secondary check passed with no explicit code → Success.
//  3. Secondary check unchecked → Failure, regardless of code (an
//     unchecked secondary check means the response cannot be trusted).
//  4. Secondary check failed → Rejected.
//  5. Blocked before reaching the network → Rejected.
//  6. Unknown explicit code → Rejected with a humanized code so unseen
//     provider codes degrade gracefully.
//  7. Anything else → Failure.
func Classify(in Input) domain.Classification {
	code := normalizeCode(in.ExplicitCode)

	if e, ok := codeTable[code]; ok {
		return domain.Classification{Category: e.category, Code: code, Message: e.message}
	}

	if in.SecondaryCheck == domain.SecondaryCheckPass && code == "" {
		return domain.Classification{
			Category: domain.CategorySuccess,
			Code:     CodeSecondaryPassed,
			Message:  "Approved, secondary check passed",
		}
	}

	if in.SecondaryCheck == domain.SecondaryCheckUnchecked {
		return domain.Classification{
			Category: domain.CategoryFailure,
			Code:     CodeSecondaryUnchecked,
			Message:  "Secondary check unavailable, processing/proxy issue",
		}
	}

	if in.SecondaryCheck == domain.SecondaryCheckFail {
		return domain.Classification{
			Category: domain.CategoryRejected,
			Code:     CodeSecondaryFailed,
			Message:  "Declined, secondary check failed",
		}
	}

	if in.NetworkStatus == domain.NetworkStatusNotSent {
		return domain.Classification{
			Category: domain.CategoryRejected,
			Code:     CodeNotSentToNetwork,
			Message:  "Blocked before reaching the network",
		}
	}

	if code != "" {
		return domain.Classification{
			Category: domain.CategoryRejected,
			Code:     code,
			Message:  Humanize(code),
		}
	}

	return domain.Classification{
		Category: domain.CategoryFailure,
		Code:     CodeUnclassifiable,
		Message:  "Unclassifiable provider response",
	}
}

// normalizeCode lowercases a code and folds the separators providers
// disagree on ("_", "-", space) into underscores, collapsing runs.
func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(code))
	prevSep := false
	for _, r := range code {
		if r == '_' || r == '-' || r == ' ' {
			if !prevSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			prevSep = true
			continue
		}
		b.WriteRune(r)
		prevSep = false
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Humanize turns a normalized code into a display message:
// "unknown_xyz_code" → "Unknown Xyz Code".
func Humanize(code string) string {
	words := strings.Split(normalizeCode(code), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
