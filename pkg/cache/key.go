// Package cache stores completed research results under keys derived from
// normalized request parameters.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the shape of a cacheable research request. Each kind has its own TTL.
type Kind string

const (
	KindFreeForm Kind = "free-form-research"
	KindCompany  Kind = "company-research"
	KindMarket   Kind = "market-research"
	KindBulk     Kind = "bulk-company-research"
)

// Kinds lists every cacheable kind.
var Kinds = []Kind{KindFreeForm, KindCompany, KindMarket, KindBulk}

const keyPrefix = "research:"

// ErrNotCacheable is returned by BuildCacheKey for requests whose result must
// never be stored.
var ErrNotCacheable = errors.New("request is not cacheable")

// Params are the request fields that determine a research result.
//
// Competitors and Companies are sets: order, case and duplicates are ignored.
type Params struct {
	Goal        string   `json:"goal,omitempty"`
	CompanyName string   `json:"companyName,omitempty"`
	Industry    string   `json:"industry,omitempty"`
	Competitors []string `json:"competitors,omitempty"`
	Companies   []string `json:"companies,omitempty"`
	Market      string   `json:"market,omitempty"`
	SearchDepth string   `json:"searchDepth,omitempty"`
	Language    string   `json:"language,omitempty"`

	ThinkingProvider string `json:"thinkingProvider,omitempty"`
	ThinkingModel    string `json:"thinkingModel,omitempty"`
	TaskProvider     string `json:"taskProvider,omitempty"`
	TaskModel        string `json:"taskModel,omitempty"`
	SearchProvider   string `json:"searchProvider,omitempty"`

	// Suggestion continues an earlier session, so its result depends on
	// state outside these params.
	Suggestion string `json:"suggestion,omitempty"`
}

// BuildCacheKey derives the key of a request. Semantically equal requests
// produce the same key. Requests without query text for their kind, or that
// continue an earlier session, return ErrNotCacheable.
func BuildCacheKey(kind Kind, p Params) (string, error) {
	n := p.normalize()
	if strings.TrimSpace(p.Suggestion) != "" {
		return "", fmt.Errorf("%w: continues an earlier session", ErrNotCacheable)
	}
	switch kind {
	case KindFreeForm:
		if n.Goal == "" {
			return "", fmt.Errorf("%w: empty goal", ErrNotCacheable)
		}
	case KindCompany:
		if n.CompanyName == "" {
			return "", fmt.Errorf("%w: empty company name", ErrNotCacheable)
		}
	case KindMarket:
		if n.Market == "" {
			return "", fmt.Errorf("%w: empty market", ErrNotCacheable)
		}
	case KindBulk:
		if len(n.Companies) == 0 {
			return "", fmt.Errorf("%w: no companies", ErrNotCacheable)
		}
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrNotCacheable, kind)
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return keyPrefix + string(kind) + ":" + hex.EncodeToString(sum[:]), nil
}

// KindOf extracts the kind from a key built by BuildCacheKey.
func KindOf(key string) (Kind, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", false
	}
	kind, _, ok := strings.Cut(rest, ":")
	if !ok {
		return "", false
	}
	return Kind(kind), true
}

func (p Params) normalize() Params {
	return Params{
		// Goal text keeps its case; only whitespace is collapsed.
		Goal:             collapse(p.Goal),
		CompanyName:      name(p.CompanyName),
		Industry:         name(p.Industry),
		Competitors:      set(p.Competitors),
		Companies:        set(p.Companies),
		Market:           name(p.Market),
		SearchDepth:      name(p.SearchDepth),
		Language:         name(p.Language),
		ThinkingProvider: name(p.ThinkingProvider),
		ThinkingModel:    strings.TrimSpace(p.ThinkingModel),
		TaskProvider:     name(p.TaskProvider),
		TaskModel:        strings.TrimSpace(p.TaskModel),
		SearchProvider:   name(p.SearchProvider),
	}
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func name(s string) string { return strings.ToLower(collapse(s)) }

func set(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		n := name(it)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
