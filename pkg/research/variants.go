package research

import (
	"context"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/policy"
)

// RunFastResearch runs req on the fast tier: one round, short timeouts.
func (e *Engine) RunFastResearch(ctx context.Context, req Request, events Events) (*Result, error) {
	req.Depth = policy.DepthFast
	return e.Run(ctx, req, events)
}

// RunMediumResearch runs req on the medium tier.
func (e *Engine) RunMediumResearch(ctx context.Context, req Request, events Events) (*Result, error) {
	req.Depth = policy.DepthMedium
	return e.Run(ctx, req, events)
}

// RunDeepResearch runs req on the deep tier: most rounds, longest timeouts.
func (e *Engine) RunDeepResearch(ctx context.Context, req Request, events Events) (*Result, error) {
	req.Depth = policy.DepthDeep
	return e.Run(ctx, req, events)
}

// RunAtDepth dispatches to the runner of depth.
func (e *Engine) RunAtDepth(ctx context.Context, depth policy.SearchDepth, req Request, events Events) (*Result, error) {
	switch depth {
	case policy.DepthFast:
		return e.RunFastResearch(ctx, req, events)
	case policy.DepthDeep:
		return e.RunDeepResearch(ctx, req, events)
	default:
		return e.RunMediumResearch(ctx, req, events)
	}
}

// CompanyRequest builds a company research request.
func CompanyRequest(name, industry string, competitors ...string) Request {
	return Request{Kind: cache.KindCompany, CompanyName: name, Industry: industry, Competitors: competitors}
}

// MarketRequest builds a market research request.
func MarketRequest(market string) Request {
	return Request{Kind: cache.KindMarket, Market: market}
}

// BulkCompanyRequest builds a request covering several companies at once.
func BulkCompanyRequest(companies ...string) Request {
	return Request{Kind: cache.KindBulk, Companies: companies}
}

// GoalRequest builds a free-form research request.
func GoalRequest(goal string) Request {
	return Request{Kind: cache.KindFreeForm, Goal: goal}
}
