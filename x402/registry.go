package x402

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Route is a registered pattern with its payment configuration.
type Route struct {
	Pattern string
	Method  string // empty matches any method
	Path    string
	Prefix  bool
	Config  RouteConfig
}

// Registry holds the payment requirements of every protected route. It is
// built once and never mutated, so concurrent lookups need no locking.
type Registry struct {
	routes   []Route
	exact    map[string]int
	prefixes []int
}

type registryOptions struct {
	defaultPayTo string
}

// RegistryOption customizes registry construction.
type RegistryOption func(*registryOptions)

// WithDefaultPayTo fills requirements that leave payTo empty. It is how a
// payee address provisioned at startup gets frozen into the registry.
func WithDefaultPayTo(addr string) RegistryOption {
	return func(o *registryOptions) {
		o.defaultPayTo = strings.TrimSpace(addr)
	}
}

var validate = validator.New()

// NewRegistry validates routes and returns an immutable registry. The first
// malformed route or requirement aborts construction with a *ConfigError.
func NewRegistry(routes RoutesConfig, opts ...RegistryOption) (*Registry, error) {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	patterns := make([]string, 0, len(routes))
	for p := range routes {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	reg := &Registry{
		routes: make([]Route, 0, len(patterns)),
		exact:  make(map[string]int, len(patterns)),
	}
	for _, pattern := range patterns {
		method, path, prefix, err := parsePattern(pattern)
		if err != nil {
			return nil, &ConfigError{Route: pattern, Field: "pattern", Err: err}
		}
		cfg, err := freezeRoute(pattern, routes[pattern], o.defaultPayTo)
		if err != nil {
			return nil, err
		}
		key := routeKey(method, path)
		if _, dup := reg.exact[key]; dup && !prefix {
			return nil, &ConfigError{Route: pattern, Field: "pattern", Err: errors.New("duplicate route")}
		}

		reg.routes = append(reg.routes, Route{
			Pattern: pattern,
			Method:  method,
			Path:    path,
			Prefix:  prefix,
			Config:  cfg,
		})
		idx := len(reg.routes) - 1
		if prefix {
			reg.prefixes = append(reg.prefixes, idx)
		} else {
			reg.exact[key] = idx
		}
	}

	sort.SliceStable(reg.prefixes, func(i, j int) bool {
		return len(reg.routes[reg.prefixes[i]].Path) > len(reg.routes[reg.prefixes[j]].Path)
	})
	return reg, nil
}

// Lookup returns the configuration for method and path. ok is false when no
// route matches; a matching route with an empty Accepts list is free.
func (r *Registry) Lookup(method, path string) (RouteConfig, bool) {
	if r == nil {
		return RouteConfig{}, false
	}
	method = strings.ToUpper(method)
	if idx, ok := r.exact[routeKey(method, path)]; ok {
		return r.routes[idx].Config, true
	}
	if idx, ok := r.exact[routeKey("", path)]; ok {
		return r.routes[idx].Config, true
	}
	for _, idx := range r.prefixes {
		rt := r.routes[idx]
		if rt.Method != "" && rt.Method != method {
			continue
		}
		if path == rt.Path || strings.HasPrefix(path, rt.Path+"/") || rt.Path == "" {
			return rt.Config, true
		}
	}
	return RouteConfig{}, false
}

// Requirements is Lookup reduced to the ordered accepts list.
func (r *Registry) Requirements(method, path string) []PaymentRequirement {
	cfg, _ := r.Lookup(method, path)
	return cfg.Accepts
}

// Routes lists every registered route in pattern order.
func (r *Registry) Routes() []Route {
	if r == nil {
		return nil
	}
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

func freezeRoute(pattern string, cfg RouteConfig, defaultPayTo string) (RouteConfig, error) {
	frozen := RouteConfig{
		Description: cfg.Description,
		MimeType:    cfg.MimeType,
		Accepts:     make([]PaymentRequirement, len(cfg.Accepts)),
	}
	if cfg.QueryParams != nil {
		frozen.QueryParams = make(map[string]string, len(cfg.QueryParams))
		for k, v := range cfg.QueryParams {
			frozen.QueryParams[k] = v
		}
	}
	for i, req := range cfg.Accepts {
		if strings.TrimSpace(req.PayTo) == "" {
			req.PayTo = defaultPayTo
		}
		if req.Description == "" {
			req.Description = cfg.Description
		}
		if req.MimeType == "" {
			req.MimeType = cfg.MimeType
		}
		if req.Extra != nil {
			extra := make(map[string]any, len(req.Extra))
			for k, v := range req.Extra {
				extra[k] = v
			}
			req.Extra = extra
		}
		if err := validateRequirement(req); err != nil {
			return RouteConfig{}, &ConfigError{Route: pattern, Field: fmt.Sprintf("accepts[%d]", i), Err: err}
		}
		frozen.Accepts[i] = req
	}
	return frozen, nil
}

func validateRequirement(req PaymentRequirement) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	if _, err := ParsePrice(req.Price); err != nil {
		return err
	}
	if strings.HasPrefix(req.Network, "eip155:") {
		if !common.IsHexAddress(req.PayTo) {
			return fmt.Errorf("payTo %q is not an EVM address", req.PayTo)
		}
		if req.Asset != "" && !common.IsHexAddress(req.Asset) {
			return fmt.Errorf("asset %q is not an EVM address", req.Asset)
		}
	}
	return nil
}

func parsePattern(pattern string) (method, path string, prefix bool, err error) {
	fields := strings.Fields(pattern)
	switch len(fields) {
	case 1:
		path = fields[0]
	case 2:
		method = strings.ToUpper(fields[0])
		path = fields[1]
		if method == "*" {
			method = ""
		}
	default:
		return "", "", false, fmt.Errorf("expected \"METHOD /path\", got %q", pattern)
	}
	if method != "" && !knownMethod(method) {
		return "", "", false, fmt.Errorf("unknown method %q", method)
	}
	if !strings.HasPrefix(path, "/") {
		return "", "", false, fmt.Errorf("path %q must start with /", path)
	}
	if strings.HasSuffix(path, "/*") {
		prefix = true
		path = strings.TrimSuffix(path, "/*")
	}
	return method, path, prefix, nil
}

func knownMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func routeKey(method, path string) string {
	return method + " " + path
}
