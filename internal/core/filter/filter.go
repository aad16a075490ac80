// Package filter composes a go-ethereum log filter from a topic, an
// address-or-template binding, and a block window. It is pure and
// synchronous: no RPC, no allocation beyond the returned FilterQuery.
package filter

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"etl-web3/internal/core/model"
)

// Build returns the FilterQuery for one window [from, to] of the given
// topic against the given address-or-filter binding.
//
// For a plain Address binding, the only constraint besides topic0 and the
// block range is the contract address. For a Template binding, every
// indexed-topic slot and address list of the template is preserved
// unchanged; only topic0, FromBlock and ToBlock are overlaid.
func Build(topic model.TopicId, aof model.AddressOrFilter, from, to uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{topic}},
	}

	switch {
	case aof.Address != nil:
		q.Addresses = []common.Address{*aof.Address}
	case aof.Template != nil:
		q.Addresses = aof.Template.Addresses
		for i := 1; i < 4; i++ {
			if len(aof.Template.Topics[i]) == 0 {
				continue
			}
			for len(q.Topics) <= i {
				q.Topics = append(q.Topics, nil)
			}
			q.Topics[i] = aof.Template.Topics[i]
		}
	}

	return q
}
