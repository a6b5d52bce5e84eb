// Package payee resolves the address payments are sent to. The address is
// resolved once at startup and frozen into the payment registry.
package payee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/jayyu23/x402-zkid/logger"
)

// Provider obtains a payee address for an account name, creating the account
// if needed.
type Provider interface {
	Provision(ctx context.Context, name string) (string, error)
}

// Store persists provisioned addresses across restarts.
type Store interface {
	// Get returns ok=false when nothing is stored for name.
	Get(ctx context.Context, name string) (addr string, ok bool, err error)
	Put(ctx context.Context, name, addr string) error
}

// Static is a Provider that always returns the same address.
type Static string

func (s Static) Provision(context.Context, string) (string, error) {
	if !common.IsHexAddress(string(s)) {
		return "", fmt.Errorf("payee address %q is not an EVM address", string(s))
	}
	return common.HexToAddress(string(s)).Hex(), nil
}

// Resolver is the initialize-once barrier for the payee address. Concurrent
// first callers share one provisioning call; a failed call is not cached.
type Resolver struct {
	name     string
	provider Provider
	store    Store
	logger   logger.Logger

	group singleflight.Group
	mu    sync.RWMutex
	addr  string
}

type ResolverOption func(*Resolver)

func WithStore(s Store) ResolverOption {
	return func(r *Resolver) { r.store = s }
}

func WithLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger.OrNoop(l) }
}

func NewResolver(name string, provider Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		name:     name,
		provider: provider,
		logger:   logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(map[string]any{"component": "payee", "account": name})
	return r
}

// Address returns the payee address, provisioning it on first use.
func (r *Resolver) Address(ctx context.Context) (string, error) {
	r.mu.RLock()
	addr := r.addr
	r.mu.RUnlock()
	if addr != "" {
		return addr, nil
	}

	v, err, _ := r.group.Do(r.name, func() (any, error) {
		r.mu.RLock()
		cached := r.addr
		r.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}

		addr, err := r.resolve(ctx)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.addr = addr
		r.mu.Unlock()
		return addr, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve(ctx context.Context) (string, error) {
	if r.provider == nil {
		return "", errors.New("payee: no provider configured")
	}

	if r.store != nil {
		addr, ok, err := r.store.Get(ctx, r.name)
		if err != nil {
			r.logger.Warn("payee store lookup failed, provisioning", map[string]any{"error": err.Error()})
		} else if ok && common.IsHexAddress(addr) {
			r.logger.Info("payee address loaded from store", map[string]any{"address": addr})
			return common.HexToAddress(addr).Hex(), nil
		}
	}

	addr, err := r.provider.Provision(ctx, r.name)
	if err != nil {
		return "", fmt.Errorf("provision payee %q: %w", r.name, err)
	}
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("provision payee %q: provider returned %q", r.name, addr)
	}
	addr = common.HexToAddress(addr).Hex()
	r.logger.Info("payee address provisioned", map[string]any{"address": addr})

	if r.store != nil {
		if err := r.store.Put(ctx, r.name, addr); err != nil {
			r.logger.Warn("payee store write failed", map[string]any{"error": err.Error()})
		}
	}
	return addr, nil
}
