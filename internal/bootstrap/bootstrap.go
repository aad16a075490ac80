// Package bootstrap turns a config.Config into the model.EventSubscription
// set and CallbackRegistry the indexing core drives, plus the
// supervisor.Settings it runs under — the glue between manifest parsing and
// the core's generic event-processing machinery.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"etl-web3/internal/config"
	"etl-web3/internal/core/model"
	"etl-web3/internal/core/provider"
	"etl-web3/internal/core/registry"
	"etl-web3/internal/core/supervisor"
	"etl-web3/internal/sink"
)

// Build dials the configured RPC endpoint, binds every configured contract
// event to a decode-then-sink callback, and returns the ready-to-run
// registry plus the supervisor settings derived from cfg.
func Build(ctx context.Context, cfg *config.Config, sk sink.Sink) (*registry.Registry, supervisor.Settings, error) {
	ep, err := provider.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, supervisor.Settings{}, fmt.Errorf("bootstrap: dialing rpc: %w", err)
	}

	reg := registry.New()
	dec := newDecoder(ep)

	bySubscription := make(map[model.TopicId][]*model.NetworkContract)
	var order []model.TopicId

	for i := range cfg.Contracts {
		c := &cfg.Contracts[i]
		aof, err := model.NewAddressFilter(c.Address)
		if err != nil {
			return nil, supervisor.Settings{}, fmt.Errorf("bootstrap: contract '%s': %w", c.Name, err)
		}

		nc := &model.NetworkContract{
			Name:            c.Name,
			AddressOrFilter: aof,
			Provider:        ep,
			StartBlock:      c.StartBlock,
			EndBlock:        c.EndBlock,
		}

		if c.ParsedABI == nil {
			return nil, supervisor.Settings{}, fmt.Errorf("bootstrap: contract '%s' has no parsed ABI", c.Name)
		}

		for _, evName := range c.Events {
			evDef, ok := c.ParsedABI.Events[evName]
			if !ok {
				logrus.Warnf("event '%s' not found in ABI for contract '%s'", evName, c.Name)
				continue
			}

			topic := model.TopicId(evDef.ID)
			dec.bind(nc, c.ParsedABI, evDef)

			if _, seen := bySubscription[topic]; !seen {
				order = append(order, topic)
				reg.Register(topic, dec.callback(sk))
			}
			bySubscription[topic] = append(bySubscription[topic], nc)
		}
	}

	subs := make([]model.EventSubscription, 0, len(order))
	for _, topic := range order {
		subs = append(subs, model.EventSubscription{TopicID: topic, Contracts: bySubscription[topic]})
	}
	reg.SetSubscriptions(subs)

	settings := supervisor.Settings{
		Concurrent:              supervisor.ConcurrentSettings{MaxConcurrency: cfg.Concurrency.MaxConcurrency},
		ExecuteInEventOrder:     cfg.ExecuteInEventOrder,
		ExecuteEventLogsInOrder: cfg.ExecuteEventLogsInOrder,
		MaxBlockRange:           cfg.MaxBlockRange,
	}

	return reg, settings, nil
}

// contractBinding records what a *model.NetworkContract needs for decoding:
// its ABI and the specific event definitions it was registered for.
type contractBinding struct {
	name   string
	abi    *abi.ABI
	events map[common.Hash]abi.Event
}

// decoder holds per-contract ABI bindings plus shared enrichment state
// (block timestamp cache, chain ID) used to turn a raw log into a
// sink.Event.
type decoder struct {
	provider *provider.EthProvider
	meta     *chainMeta

	mu       sync.Mutex
	bindings map[*model.NetworkContract]*contractBinding
}

func newDecoder(ep *provider.EthProvider) *decoder {
	return &decoder{
		provider: ep,
		meta:     &chainMeta{timestamp: make(map[uint64]uint64)},
		bindings: make(map[*model.NetworkContract]*contractBinding),
	}
}

func (d *decoder) bind(nc *model.NetworkContract, contractABI *abi.ABI, ev abi.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bindings[nc]
	if !ok {
		b = &contractBinding{name: nc.Name, abi: contractABI, events: make(map[common.Hash]abi.Event)}
		d.bindings[nc] = b
	}
	b.events[ev.ID] = ev
}

func (d *decoder) binding(nc *model.NetworkContract) *contractBinding {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bindings[nc]
}

// callback returns a registry.Callback that decodes every result in the
// batch and writes it to sk. Decode failures are logged and the event is
// skipped: a broken individual log never fails the whole trigger visibly to
// the core.
func (d *decoder) callback(sk sink.Sink) registry.Callback {
	return func(ctx context.Context, batch []model.EventResult) {
		for _, r := range batch {
			evt, err := d.decode(ctx, r)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"contract": r.Contract.Name,
					"tx":       r.Log.TxHash.Hex(),
				}).Debugf("failed to decode log: %v", err)
				continue
			}
			if sk == nil {
				continue
			}
			if err := sk.Write(evt); err != nil {
				logrus.WithField("contract", r.Contract.Name).Errorf("sink write failed: %v", err)
			}
		}
	}
}
