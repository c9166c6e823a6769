package messaging

// Topic constants for the hashpool internal event bus. These are not part of
// the SV2 wire contract; they name share/quote event streams for stats and
// audit consumers. No service in this module imports this package, so
// nothing publishes to them.
const (
	TopicShares             = "mining.shares"              // ShareEvent payloads
	TopicBlockCandidates    = "mining.block_candidates"     // BlockCandidateEvent payloads
	TopicQuotes             = "mining.quotes"               // QuoteDispatchEvent payloads
	TopicQuoteNotifications = "mining.quote_notifications"  // QuoteNotificationEvent payloads
)
