package flow

import (
	"context"
	"maps"
	"slices"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// RouteFunc selects a route key for an input.
type RouteFunc[I any] func(ctx context.Context, input I, ec *ExecutionContext) (string, error)

// RouterConfig configures a Router.
type RouterConfig struct {
	Name string
	// DefaultKey is used when the routing function returns an unknown key.
	DefaultKey string
	Logger     *logger.Logger
}

// Router dispatches each input to one primitive chosen by a routing function.
// The chosen key is appended to the routing_history state entry.
type Router[I, O any] struct {
	cfg    RouterConfig
	route  RouteFunc[I]
	routes map[string]Primitive[I, O]
	log    *logger.Logger
}

// NewRouter builds a Router. The default key, when set, must name a route.
func NewRouter[I, O any](cfg RouterConfig, route RouteFunc[I], routes map[string]Primitive[I, O]) (*Router[I, O], error) {
	if route == nil {
		return nil, apperrors.Configuration("router requires a routing function")
	}
	if len(routes) == 0 {
		return nil, apperrors.Configuration("router requires at least one route")
	}
	for key, p := range routes {
		if p == nil {
			return nil, apperrors.Configurationf("route %q has no primitive", key)
		}
	}
	if cfg.DefaultKey != "" {
		if _, ok := routes[cfg.DefaultKey]; !ok {
			return nil, apperrors.Configurationf("default route %q is not registered", cfg.DefaultKey)
		}
	}
	if cfg.Name == "" {
		cfg.Name = "router"
	}
	return &Router[I, O]{
		cfg:    cfg,
		route:  route,
		routes: maps.Clone(routes),
		log:    logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
	}, nil
}

func (r *Router[I, O]) Name() string { return r.cfg.Name }

// Routes returns the registered route keys, sorted.
func (r *Router[I, O]) Routes() []string {
	return slices.Sorted(maps.Keys(r.routes))
}

func (r *Router[I, O]) Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error) {
	var zero O

	key, err := r.route(ctx, input, ec)
	if err != nil {
		return zero, err
	}

	target, ok := r.routes[key]
	if !ok {
		if r.cfg.DefaultKey == "" {
			return zero, apperrors.Configurationf("no route for key %q and no default", key).
				WithDetail("route", key)
		}
		r.log.WithExecution(ec).Debug("route not found, using default", logger.Fields(
			logger.FieldRoute, key,
			"default", r.cfg.DefaultKey,
		))
		key = r.cfg.DefaultKey
		target = r.routes[key]
	}

	ec.AppendState(StateRoutingHistory, key)
	r.log.WithExecution(ec).Debug("routed", logger.Fields(
		logger.FieldRoute, key,
		logger.FieldPrimitive, target.Name(),
	))
	return target.Execute(ctx, input, ec)
}
