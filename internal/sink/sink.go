package sink

// Event is a single decoded chain event ready for persistence: the
// metadata enrichment always attempts (contract/tx/chain identity, block
// timestamp) plus the event's own ABI-decoded arguments, which vary per
// event definition and so stay a flexible map.
type Event struct {
	ContractName string
	EventName    string
	TxHash       string
	BlockNumber  uint64
	ChainID      string
	TxFrom       string
	Timestamp    uint64

	// Args holds the event's own decoded fields (both indexed topics and
	// unpacked data), keyed by ABI argument name.
	Args map[string]interface{}
}

// Sink defines the behaviour expected from any storage back-end used by
// the indexer (e.g. CSV files, MySQL, webhooks, etc.).
//
// Implementations should be safe for concurrent use — multiple runners may
// call Write from different goroutines when windows or events run
// concurrently.
type Sink interface {
	// Write persists the provided event and returns an error if the
	// operation fails for any reason, letting a wrapping RetrySink decide
	// whether to retry.
	Write(Event) error
}
