package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// EthProvider adapts a go-ethereum ethclient.Client to LogProvider,
// dialing with retry and classifying failures so LogStream knows which
// ones are worth retrying.
type EthProvider struct {
	client *ethclient.Client
}

// DialAttempts and DialDelay mirror the default retry policy used
// elsewhere for RPC calls (config.RetryConfig's defaults).
const (
	DialAttempts = 3
	DialDelay    = 1500 * time.Millisecond
)

// Dial establishes a connection, retrying any dial failure up to
// DialAttempts times with DialDelay between attempts.
func Dial(ctx context.Context, url string) (*EthProvider, error) {
	var (
		cli *ethclient.Client
		err error
	)

	for attempt := 1; attempt <= DialAttempts; attempt++ {
		cli, err = ethclient.DialContext(ctx, url)
		if err == nil {
			return &EthProvider{client: cli}, nil
		}

		logrus.Warnf("RPC dial failed (attempt %d/%d): %v", attempt, DialAttempts, err)

		if attempt < DialAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(DialDelay):
			}
		}
	}

	return nil, err
}

// LatestBlock implements LogProvider.
func (p *EthProvider) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := p.client.BlockNumber(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GetLogs implements LogProvider.
func (p *EthProvider) GetLogs(ctx context.Context, query eth.FilterQuery) ([]types.Log, error) {
	logs, err := p.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// Client exposes the underlying ethclient for callers that need
// capabilities beyond LogProvider (block headers, transactions, chain ID)
// to enrich decoded events. Only the bootstrap/wiring layer should reach
// for this; core packages depend on LogProvider alone.
func (p *EthProvider) Client() *ethclient.Client {
	return p.client
}

// classify marks timeouts, connection resets, and RPC rate-limit/5xx
// responses as transient so LogStream retries them; anything else (bad
// request shape, ABI mismatches surfaced as RPC errors) is left fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return MarkTransient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "rate limit", "too many requests", "429", "500", "502", "503", "504", "connection refused", "eof"} {
		if strings.Contains(msg, marker) {
			return MarkTransient(err)
		}
	}

	return err
}
