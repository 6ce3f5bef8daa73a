package pipeline

// Check identifies one fraud check. The pipeline runs them in the fixed
// order below and short-circuits on the first failure.
type Check int

const (
	CheckHeaderHash Check = iota
	CheckForeignNumber
	CheckCount
	CheckBlacklist
	CheckDuplicate
)

// checkOrder is the authoritative execution order. Adding a check means
// adding it here and to the dispatch switch; there is no dynamic registry.
var checkOrder = [...]Check{
	CheckHeaderHash,
	CheckForeignNumber,
	CheckCount,
	CheckBlacklist,
	CheckDuplicate,
}

func (c Check) Name() string {
	switch c {
	case CheckHeaderHash:
		return "header_hash"
	case CheckForeignNumber:
		return "foreign_number"
	case CheckCount:
		return "count"
	case CheckBlacklist:
		return "blacklist"
	case CheckDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// failsOpen reports whether a store error during this check lets the SMS
// through. The count and blacklist checks guard abuse so they reject when
// their backing store is unreachable; the duplicate check only prevents
// wasted work, so it passes.
func (c Check) failsOpen() bool {
	return c == CheckDuplicate
}
