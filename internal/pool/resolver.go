// Package pool resolves AMM pool accounts to the token mint pair they
// trade, caching resolutions so each pool costs at most one RPC call
// per TTL window.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/domain"
	"kmonitor/internal/storage"
)

// poolAccountMinLen covers discriminator, pool header fields and both
// mint addresses of an AMM pool account.
const poolAccountMinLen = 200

// ChainReader fetches raw account data from the chain.
type ChainReader interface {
	AccountData(ctx context.Context, address string) ([]byte, error)
}

// RPCReader reads accounts over JSON-RPC, rotating through endpoints
// on failure.
type RPCReader struct {
	clients []*rpc.Client
	log     *logrus.Entry
}

// NewRPCReader builds a reader over one or more RPC endpoints.
func NewRPCReader(endpoints []string, log *logrus.Entry) (*RPCReader, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no rpc endpoints configured")
	}
	clients := make([]*rpc.Client, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, rpc.New(ep))
	}
	return &RPCReader{clients: clients, log: log}, nil
}

// AccountData fetches the raw data of one account, trying each endpoint
// in order until one answers.
func (r *RPCReader) AccountData(ctx context.Context, address string) ([]byte, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("parse account address %q: %w", address, err)
	}

	var lastErr error
	for i, client := range r.clients {
		res, err := client.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			lastErr = err
			r.log.WithError(err).WithField("endpoint", i).Debug("account fetch failed, trying next endpoint")
			continue
		}
		if res.Value == nil {
			return nil, fmt.Errorf("account %s not found", address)
		}
		return res.Value.Data.GetBinary(), nil
	}
	return nil, fmt.Errorf("fetch account %s: %w", address, lastErr)
}

// Resolver maps pool addresses to their mint pair, consulting the cache
// before the chain.
type Resolver struct {
	reader ChainReader
	store  storage.KV
	ttl    time.Duration
	log    *logrus.Entry
}

func NewResolver(reader ChainReader, store storage.KV, ttl time.Duration, log *logrus.Entry) *Resolver {
	return &Resolver{reader: reader, store: store, ttl: ttl, log: log}
}

func poolKey(pool string) string { return "pool:" + pool }

// Resolve returns the mint pair traded by the given pool. Cached entries
// are served without touching the chain; fresh resolutions are cached
// with the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, pool string) (domain.AmmPoolData, error) {
	cached, err := r.store.Get(ctx, poolKey(pool))
	if err == nil {
		if base, quote, ok := strings.Cut(cached, ","); ok {
			return domain.AmmPoolData{BaseTokenMint: base, QuoteTokenMint: quote}, nil
		}
		r.log.WithField("pool", pool).Warn("malformed cached pool entry, re-resolving")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.AmmPoolData{}, fmt.Errorf("read pool cache: %w", err)
	}

	raw, err := r.reader.AccountData(ctx, pool)
	if err != nil {
		return domain.AmmPoolData{}, fmt.Errorf("resolve pool %s: %w", pool, err)
	}
	data, err := decodePoolAccount(raw)
	if err != nil {
		return domain.AmmPoolData{}, fmt.Errorf("decode pool %s: %w", pool, err)
	}

	value := data.BaseTokenMint + "," + data.QuoteTokenMint
	if err := r.store.SetEx(ctx, poolKey(pool), value, r.ttl); err != nil {
		r.log.WithError(err).WithField("pool", pool).Warn("failed to cache pool resolution")
	}
	return data, nil
}

// TrackedMint resolves the pool and returns the non-WSOL mint, or ""
// when the pool does not pair against wrapped SOL.
func (r *Resolver) TrackedMint(ctx context.Context, pool string) (string, error) {
	data, err := r.Resolve(ctx, pool)
	if err != nil {
		return "", err
	}
	return data.TrackedMint(), nil
}

// decodePoolAccount reads the two mint addresses out of a raw AMM pool
// account. Layout: 8-byte discriminator, 35 bytes of pool header, then
// base mint and quote mint back to back.
func decodePoolAccount(raw []byte) (domain.AmmPoolData, error) {
	if len(raw) < poolAccountMinLen {
		return domain.AmmPoolData{}, fmt.Errorf("pool account too short: %d bytes", len(raw))
	}
	return domain.AmmPoolData{
		BaseTokenMint:  base58.Encode(raw[43:75]),
		QuoteTokenMint: base58.Encode(raw[75:107]),
	}, nil
}
