// Package model holds the shared data types that flow between the indexing
// core packages: topics, filter templates, contract bindings, subscriptions
// and the unit delivered to callbacks.
package model

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"etl-web3/internal/core/provider"
)

// TopicId is a 32-byte keccak-256 hash identifying an event signature.
// go-ethereum's common.Hash already carries the 0x-prefixed hex-string
// parsing and formatting this needs, so it is reused directly rather than
// wrapped.
type TopicId = common.Hash

// ParseTopicId parses a 0x-prefixed 32-byte hex string into a TopicId.
func ParseTopicId(s string) (TopicId, error) {
	if len(s) != 66 || s[0:2] != "0x" {
		return TopicId{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	if _, err := hexutil.Decode(s); err != nil {
		return TopicId{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	return common.HexToHash(s), nil
}

// ParseTopicIdOrPanic is a test/fixture convenience; production code always
// goes through ParseTopicId and handles the error as a ConfigError.
func ParseTopicIdOrPanic(s string) TopicId {
	id, err := ParseTopicId(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FilterTemplate is a partial filter carrying additional indexed-topic
// constraints. It preserves everything except topic0 and the block range,
// both of which FilterBuilder overlays per window.
type FilterTemplate struct {
	Addresses []common.Address
	// Topics[0] is ignored by FilterBuilder; it always overlays it.
	Topics [4][]common.Hash
}

// AddressOrFilter is a tagged union of a single contract address or a
// broader filter template (for e.g. factory-spawned contracts matched by
// topic rather than address). Exactly one of Address or Template is set.
type AddressOrFilter struct {
	Address  *common.Address
	Template *FilterTemplate
}

// NewAddressFilter builds an AddressOrFilter bound to a single contract
// address given as a hex string.
func NewAddressFilter(hexAddr string) (AddressOrFilter, error) {
	if !common.IsHexAddress(hexAddr) {
		return AddressOrFilter{}, fmt.Errorf("%w: %q", ErrInvalidAddress, hexAddr)
	}
	addr := common.HexToAddress(hexAddr)
	return AddressOrFilter{Address: &addr}, nil
}

// NetworkContract binds a contract address (or filter template) to a
// LogProvider. Immutable after construction and safely shared by many
// concurrent fetches via pointer.
type NetworkContract struct {
	Name            string
	AddressOrFilter AddressOrFilter
	Provider        provider.LogProvider
	StartBlock      *uint64
	EndBlock        *uint64
}

// EventSubscription binds one topic to the non-empty set of contracts that
// should be indexed for it.
type EventSubscription struct {
	TopicID   TopicId
	Contracts []*NetworkContract
}

// BlockRange is an inclusive [Start, End] range. OpenEnd marks a live/open
// range with no upper bound.
type BlockRange struct {
	Start uint64
	End   uint64
}

// OpenEnd is the sentinel BlockRange.End value meaning "no upper bound"
// (live mode).
const OpenEnd = math.MaxUint64

// EventResult is the unit delivered to callbacks: a raw log plus a shared
// reference to the contract it was indexed from.
type EventResult struct {
	Contract *NetworkContract
	Log      types.Log
}

// LogBatch is the ordered sequence of raw logs a single RPC call returned
// for a window. Order is whatever the provider returned (block ascending,
// log-index ascending).
type LogBatch = []types.Log
