package persona

import "time"

// EvaluateFreshness decides whether a persona may be served from its
// stored document. Pure function of its inputs; callers pass the
// current time. Expiry never triggers an implicit rebuild, it only
// reports MustRefresh when the caller explicitly asked to refresh or
// the document is missing entirely.
func EvaluateFreshness(updatedAt time.Time, ttl time.Duration, explicitRefresh bool, now time.Time) Freshness {
	age := now.Sub(updatedAt)
	stale := ttl > 0 && age > ttl

	verdict := ServeCached
	if explicitRefresh || updatedAt.IsZero() {
		verdict = MustRefresh
	}

	return Freshness{
		Verdict: verdict,
		Age:     age,
		Stale:   stale,
	}
}
