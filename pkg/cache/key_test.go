package cache

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCacheKeyDeterminism(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		a, b string
	}{
		{
			name: "json key order",
			kind: KindCompany,
			a:    `{"companyName":"Acme Corp","industry":"Tools","searchDepth":"fast"}`,
			b:    `{"searchDepth":"fast","industry":"Tools","companyName":"Acme Corp"}`,
		},
		{
			name: "competitor order and case",
			kind: KindCompany,
			a:    `{"companyName":"Acme","competitors":["Globex","Initech"]}`,
			b:    `{"competitors":["initech","GLOBEX ","Globex"],"companyName":"acme"}`,
		},
		{
			name: "bulk companies order",
			kind: KindBulk,
			a:    `{"companies":["A","B"],"searchDepth":"fast"}`,
			b:    `{"searchDepth":"fast","companies":["B","A"]}`,
		},
		{
			name: "whitespace in names",
			kind: KindMarket,
			a:    `{"market":"electric  vehicles"}`,
			b:    `{"market":" Electric vehicles"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pa, pb Params
			require.NoError(t, json.Unmarshal([]byte(tt.a), &pa))
			require.NoError(t, json.Unmarshal([]byte(tt.b), &pb))
			ka, err := BuildCacheKey(tt.kind, pa)
			require.NoError(t, err)
			kb, err := BuildCacheKey(tt.kind, pb)
			require.NoError(t, err)
			assert.Equal(t, ka, kb)
			assert.True(t, strings.HasPrefix(ka, "research:"+string(tt.kind)+":"))
		})
	}
}

func TestBuildCacheKeyDistinguishes(t *testing.T) {
	base := Params{CompanyName: "Acme", SearchDepth: "fast", ThinkingProvider: "openai", ThinkingModel: "gpt-4o"}
	k1, err := BuildCacheKey(KindCompany, base)
	require.NoError(t, err)

	variants := map[string]Params{}
	v := base
	v.SearchDepth = "deep"
	variants["depth"] = v
	v = base
	v.ThinkingModel = "gpt-4o-mini"
	variants["model"] = v
	v = base
	v.Competitors = []string{"Globex"}
	variants["competitors"] = v
	v = base
	v.Language = "de"
	variants["language"] = v

	for name, p := range variants {
		t.Run(name, func(t *testing.T) {
			k2, err := BuildCacheKey(KindCompany, p)
			require.NoError(t, err)
			assert.NotEqual(t, k1, k2)
		})
	}

	kMarket, err := BuildCacheKey(KindMarket, Params{Market: "Acme"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, kMarket)
}

func TestGoalKeepsCase(t *testing.T) {
	k1, err := BuildCacheKey(KindFreeForm, Params{Goal: "Rust vs Go"})
	require.NoError(t, err)
	k2, err := BuildCacheKey(KindFreeForm, Params{Goal: "  Rust   vs Go "})
	require.NoError(t, err)
	k3, err := BuildCacheKey(KindFreeForm, Params{Goal: "rust vs go"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestBuildCacheKeyNotCacheable(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		p    Params
	}{
		{"empty goal", KindFreeForm, Params{Goal: "   "}},
		{"empty company", KindCompany, Params{Industry: "tools"}},
		{"empty market", KindMarket, Params{}},
		{"blank companies", KindBulk, Params{Companies: []string{" ", ""}}},
		{"suggestion", KindFreeForm, Params{Goal: "x", Suggestion: "go deeper"}},
		{"unknown kind", Kind("chat"), Params{Goal: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildCacheKey(tt.kind, tt.p)
			assert.ErrorIs(t, err, ErrNotCacheable)
		})
	}
}

func TestKindOf(t *testing.T) {
	key, err := BuildCacheKey(KindMarket, Params{Market: "ev"})
	require.NoError(t, err)
	kind, ok := KindOf(key)
	assert.True(t, ok)
	assert.Equal(t, KindMarket, kind)

	_, ok = KindOf("something-else")
	assert.False(t, ok)
}
