package bootstrap

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"etl-web3/internal/core/model"
	"etl-web3/internal/sink"
)

// chainMeta caches the cross-block enrichment data decode needs: the chain
// ID (fetched once) and per-block timestamps (fetched at most once per
// block, since a window's logs routinely share blocks).
type chainMeta struct {
	mu        sync.Mutex
	chainID   *big.Int
	timestamp map[uint64]uint64
}

func (d *decoder) decode(ctx context.Context, r model.EventResult) (sink.Event, error) {
	b := d.binding(r.Contract)
	if b == nil {
		return sink.Event{}, fmt.Errorf("bootstrap: no abi binding for contract %s", r.Contract.Name)
	}

	lg := r.Log
	if len(lg.Topics) == 0 {
		return sink.Event{}, fmt.Errorf("bootstrap: log has no topics")
	}

	evDef, ok := b.events[lg.Topics[0]]
	if !ok {
		return sink.Event{}, fmt.Errorf("bootstrap: topic %s not bound for contract %s", lg.Topics[0].Hex(), b.name)
	}

	args := make(map[string]interface{})
	if err := b.abi.UnpackIntoMap(args, evDef.Name, lg.Data); err != nil {
		return sink.Event{}, fmt.Errorf("unpacking data for %s: %w", evDef.Name, err)
	}

	var indexed abi.Arguments
	for _, input := range evDef.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	for i, arg := range indexed {
		if len(lg.Topics) <= i+1 {
			break
		}
		topicVals := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(topicVals, abi.Arguments{arg}, []common.Hash{lg.Topics[i+1]}); err == nil {
			for k, v := range topicVals {
				args[k] = v
			}
		} else {
			args[arg.Name] = lg.Topics[i+1].Hex()
		}
	}

	evt := sink.Event{
		ContractName: b.name,
		EventName:    evDef.Name,
		TxHash:       lg.TxHash.Hex(),
		BlockNumber:  lg.BlockNumber,
		Args:         args,
	}

	d.enrich(ctx, &lg, &evt)
	return evt, nil
}

// enrich fills Timestamp, ChainID and TxFrom using the underlying
// ethclient. Failures are swallowed so a slow or unavailable enrichment
// call never drops the decoded event itself.
func (d *decoder) enrich(ctx context.Context, lg *types.Log, evt *sink.Event) {
	cli := d.provider.Client()

	d.meta.mu.Lock()
	ts, cached := d.meta.timestamp[lg.BlockNumber]
	chainID := d.meta.chainID
	d.meta.mu.Unlock()

	if cached {
		evt.Timestamp = ts
	} else if hdr, err := cli.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber)); err == nil {
		evt.Timestamp = hdr.Time
		d.meta.mu.Lock()
		d.meta.timestamp[lg.BlockNumber] = hdr.Time
		d.meta.mu.Unlock()
	}

	if chainID == nil {
		if id, err := cli.ChainID(ctx); err == nil {
			chainID = id
			d.meta.mu.Lock()
			d.meta.chainID = id
			d.meta.mu.Unlock()
		}
	}
	if chainID == nil {
		return
	}
	evt.ChainID = chainID.String()

	tx, _, err := cli.TransactionByHash(ctx, lg.TxHash)
	if err != nil {
		return
	}
	signer := types.LatestSignerForChainID(chainID)
	if from, err := types.Sender(signer, tx); err == nil {
		evt.TxFrom = from.Hex()
	}
}
