package redis

// Key patterns for Redis keys.
const (
	KeyPatternJourneyState   = "journey:%s:%s:state"
	KeyPatternJourneyHistory = "journey:%s:%s:history"
	KeyPatternCustomerIndex  = "customer:%s:journeys"
	KeyPatternCustomer       = "customer:%s:profile"
	KeyPatternIdentity       = "identity:%s:%s"
	KeyPatternTimer          = "timer:%s"
	KeyPatternJob            = "job:%s"
	KeyPatternIdempotency    = "idem:%s"
	KeyPatternJourneySeq     = "journeydef:%s:seq"
	KeyPatternJourneyDefs    = "journeydef:%s:versions"
	KeyPatternJourneyActive  = "journeydef:%s:active"

	KeyTimersDue     = "timers:due"
	KeyDispatchQueue = "dispatch:queue"
)
