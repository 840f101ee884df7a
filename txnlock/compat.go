package txnlock

import "coredb/txn"

// compatible reports whether a transaction already holding a lock in
// held may coexist with a different transaction holding requested,
// per the standard multi-granularity compatibility matrix (spec §4.5).
func compatible(held, requested txn.LockMode) bool {
	switch held {
	case txn.IntentionShared:
		return requested != txn.Exclusive
	case txn.IntentionExclusive:
		return requested == txn.IntentionShared || requested == txn.IntentionExclusive
	case txn.Shared:
		return requested == txn.IntentionShared || requested == txn.Shared
	case txn.SharedIntentionExclusive:
		return requested == txn.IntentionShared
	case txn.Exclusive:
		return false
	default:
		return false
	}
}

// validUpgrade reports whether from -> to is one of the permitted lock
// upgrade transitions (spec §4.5). Requesting the same mode is not an
// upgrade; callers check that case separately.
func validUpgrade(from, to txn.LockMode) bool {
	switch from {
	case txn.IntentionShared:
		return to == txn.Shared || to == txn.Exclusive || to == txn.SharedIntentionExclusive
	case txn.Shared, txn.IntentionExclusive:
		return to == txn.Exclusive || to == txn.SharedIntentionExclusive
	case txn.SharedIntentionExclusive:
		return to == txn.Exclusive
	default:
		return false
	}
}
