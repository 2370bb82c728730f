package router

import (
	"strings"

	"github.com/freedive-ai/coach/pkg/config"
	"github.com/freedive-ai/coach/pkg/models"
)

// Route is the model and sampling parameters used for one endpoint.
type Route struct {
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Router resolves endpoints to model routes and prices completions.
type Router struct {
	def     Route
	routes  map[string]Route
	pricing map[string]models.ModelPricing
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	r := &Router{
		def:     fromConfig(cfg.Models.Default),
		routes:  make(map[string]Route, len(cfg.Models.Routes)),
		pricing: make(map[string]models.ModelPricing, len(cfg.Pricing)),
	}
	for _, rc := range cfg.Models.Routes {
		route := fromConfig(rc)
		// Unset fields inherit from the default route.
		if route.Model == "" {
			route.Model = r.def.Model
		}
		if route.MaxTokens == 0 {
			route.MaxTokens = r.def.MaxTokens
		}
		r.routes[rc.Endpoint] = route
	}
	for _, p := range cfg.Pricing {
		r.pricing[p.Model] = p
	}
	return r
}

func fromConfig(rc config.RouteConfig) Route {
	return Route{
		Endpoint:    rc.Endpoint,
		Model:       rc.Model,
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
		JSONMode:    rc.JSONMode,
	}
}

// Resolve returns the route for endpoint, falling back to the default route.
func (r *Router) Resolve(endpoint string) Route {
	if route, ok := r.routes[endpoint]; ok {
		return route
	}
	route := r.def
	route.Endpoint = endpoint
	return route
}

// Cost estimates the dollar cost of a completion. Unknown models cost 0.
// Dated model snapshots ("gpt-4o-2024-08-06") are priced as their base model.
func (r *Router) Cost(model string, usage models.Usage) float64 {
	p, ok := r.pricing[model]
	if !ok {
		for name, candidate := range r.pricing {
			if strings.HasPrefix(model, name+"-") && len(name) > len(p.Model) {
				p, ok = candidate, true
			}
		}
	}
	if !ok {
		return 0
	}
	return p.Estimate(usage.PromptTokens, usage.CompletionTokens)
}
