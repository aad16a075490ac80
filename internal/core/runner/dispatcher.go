// Package runner drives a LogStream to completion for one (event, contract)
// pair: Dispatcher delivers its batches to the CallbackRegistry under the
// configured ordering policy, and Runner partitions a block range into
// windows and drives a Dispatcher per window.
package runner

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"etl-web3/internal/core/model"
	"etl-web3/internal/core/registry"
	"etl-web3/internal/core/stream"
)

// Dispatcher consumes one LogStream for one (event, contract) pair.
type Dispatcher struct {
	Registry *registry.Registry
}

// Dispatch drains stream, delivering batches to topic's callback via the
// registry. In-order mode preserves batch order and runs one callback
// invocation at a time; unordered mode fans each log out to its own
// goroutine and joins before returning.
func (d *Dispatcher) Dispatch(ctx context.Context, s *stream.LogStream, topic model.TopicId, contract *model.NetworkContract, inOrder bool) error {
	if inOrder {
		return d.dispatchInOrder(ctx, s, topic, contract)
	}
	return d.dispatchUnordered(ctx, s, topic, contract)
}

func (d *Dispatcher) dispatchInOrder(ctx context.Context, s *stream.LogStream, topic model.TopicId, contract *model.NetworkContract) error {
	for {
		batch, err, done := s.Next(ctx)
		if err != nil {
			logrus.WithFields(logrus.Fields{"topic": topic.Hex(), "contract": contract.Name}).
				Warnf("stream ended with fatal error: %v", err)
			return err
		}
		if done {
			return nil
		}
		if len(batch) == 0 {
			continue
		}

		results := make([]model.EventResult, len(batch))
		for i, lg := range batch {
			results[i] = model.EventResult{Contract: contract, Log: lg}
		}
		d.Registry.Trigger(ctx, topic, results)
	}
}

func (d *Dispatcher) dispatchUnordered(ctx context.Context, s *stream.LogStream, topic model.TopicId, contract *model.NetworkContract) error {
	g, gctx := errgroup.WithContext(ctx)
	for {
		batch, err, done := s.Next(ctx)
		if err != nil {
			logrus.WithFields(logrus.Fields{"topic": topic.Hex(), "contract": contract.Name}).
				Warnf("stream ended with fatal error: %v", err)
			_ = g.Wait()
			return err
		}
		if done {
			break
		}
		for _, lg := range batch {
			lg := lg
			g.Go(func() error {
				d.Registry.Trigger(gctx, topic, []model.EventResult{{Contract: contract, Log: lg}})
				return nil
			})
		}
	}
	return g.Wait()
}
