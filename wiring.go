package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jayyu23/x402-zkid/config"
	"github.com/jayyu23/x402-zkid/logger"
	"github.com/jayyu23/x402-zkid/metrics"
	"github.com/jayyu23/x402-zkid/payee"
	"github.com/jayyu23/x402-zkid/x402"
)

// placeholderPayTo stands in for a payee that would be provisioned at
// startup, so `validate` can check the rest of the config offline.
const placeholderPayTo = "0x0000000000000000000000000000000000000001"

// needsPayee reports whether any requirement leaves payTo to the payee.
func needsPayee(routes x402.RoutesConfig) bool {
	for _, rc := range routes {
		for _, req := range rc.Accepts {
			if strings.TrimSpace(req.PayTo) == "" {
				return true
			}
		}
	}
	return false
}

// resolvePayee runs the once-only payee resolution. The returned cleanup
// closes the redis store, if one was opened.
func resolvePayee(ctx context.Context, cfg *config.Config, log logger.Logger) (string, func(), error) {
	noop := func() {}
	if !needsPayee(cfg.Routes) {
		return "", noop, nil
	}

	var provider payee.Provider
	switch {
	case cfg.Payee.Address != "":
		provider = payee.Static(cfg.Payee.Address)
	case cfg.CanProvisionPayee():
		provider = payee.NewCDPProvider(cfg.Facilitator.APIKeyID, cfg.Facilitator.APIKeySecret, cfg.Payee.WalletSecret)
	default:
		return "", noop, &x402.ConfigError{Field: "payee", Err: fmt.Errorf("no payee address and no CDP credentials")}
	}

	opts := []payee.ResolverOption{payee.WithLogger(log)}
	cleanup := noop
	if cfg.Payee.RedisURL != "" && cfg.Payee.Address == "" {
		store := payee.NewRedisStore(cfg.Payee.RedisURL, log)
		if err := store.Start(ctx); err != nil {
			return "", noop, fmt.Errorf("connect payee store: %w", err)
		}
		cleanup = func() { _ = store.Stop() }
		opts = append(opts, payee.WithStore(store))
	}

	addr, err := payee.NewResolver(cfg.Payee.AccountName, provider, opts...).Address(ctx)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return addr, cleanup, nil
}

type pair struct{ scheme, network string }

// schemeNetworks lists the distinct scheme/network pairs in the registry.
func schemeNetworks(reg *x402.Registry) []pair {
	seen := map[pair]bool{}
	var out []pair
	for _, rt := range reg.Routes() {
		for _, req := range rt.Config.Accepts {
			p := pair{req.Scheme, req.Network}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].scheme != out[j].scheme {
			return out[i].scheme < out[j].scheme
		}
		return out[i].network < out[j].network
	})
	return out
}

// buildVerifier registers one mechanism per scheme/network the registry
// uses. In local mode only exact/eip155 can be verified; other pairs are left
// unregistered and reject as unsupported_network.
func buildVerifier(cfg *config.Config, reg *x402.Registry, client *x402.FacilitatorClient, log logger.Logger, rec metrics.Recorder) (*x402.Dispatcher, error) {
	var mechanisms []x402.Mechanism
	for _, p := range schemeNetworks(reg) {
		switch {
		case cfg.Facilitator.Mode == config.ModeRemote:
			mechanisms = append(mechanisms, x402.NewFacilitatorMechanism(client, p.scheme, p.network))
		case p.scheme == x402.SchemeExact && strings.HasPrefix(p.network, "eip155:"):
			mechanisms = append(mechanisms, x402.NewExactEVM(p.network))
		default:
			log.Warn("no local verifier for scheme/network", map[string]any{
				"scheme":  p.scheme,
				"network": p.network,
			})
		}
	}
	return x402.NewDispatcher(mechanisms,
		x402.WithDispatcherLogger(log),
		x402.WithDispatcherMetrics(rec),
	)
}

func newFacilitatorClient(cfg *config.Config, log logger.Logger) *x402.FacilitatorClient {
	url := x402.ResolveFacilitatorURL(cfg.Facilitator.URL, cfg.Facilitator.APIKeyID, cfg.Facilitator.APIKeySecret)
	opts := []x402.FacilitatorOption{x402.WithFacilitatorLogger(log)}
	if cfg.Facilitator.APIKeyID != "" && cfg.Facilitator.APIKeySecret != "" && strings.Contains(url, "coinbase") {
		opts = append(opts, x402.WithAuthProvider(
			x402.NewCoinbaseAuthProvider(cfg.Facilitator.APIKeyID, cfg.Facilitator.APIKeySecret, url),
		))
	}
	return x402.NewFacilitatorClient(url, cfg.VerifyTimeout(), opts...)
}
