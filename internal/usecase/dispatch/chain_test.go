package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/catalog"
	"genrelay/internal/domain"
)

func testTable(t *testing.T, providers ...string) catalog.Table {
	t.Helper()
	descs := make([]domain.ProviderDescriptor, len(providers))
	for i, p := range providers {
		descs[i] = domain.ProviderDescriptor{Provider: p, Model: "m", Kind: domain.KindCompatible}
	}
	table, err := catalog.New(1, descs)
	require.NoError(t, err)
	return table
}

func key(provider string) domain.DescriptorKey {
	return domain.DescriptorKey{Provider: provider, Model: "m"}
}

func TestBuildChainOrder(t *testing.T) {
	table := testTable(t, "a", "b", "c", "d")
	chain, err := BuildChain(table, &fakeFactory{}, ChainConfig{
		Primary:      "c/m",
		Fallbacks:    []string{"a/m"},
		AutoDiscover: true,
	}, newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, []domain.DescriptorKey{key("c"), key("a"), key("b"), key("d")}, chain.Keys())
	origins := make([]Origin, 0, chain.Len())
	for _, e := range chain.Entries() {
		origins = append(origins, e.Origin)
	}
	assert.Equal(t, []Origin{OriginPrimary, OriginFallback, OriginDiscovered, OriginDiscovered}, origins)
}

func TestBuildChainDeduplicates(t *testing.T) {
	table := testTable(t, "a", "b")
	factory := &fakeFactory{}
	chain, err := BuildChain(table, factory, ChainConfig{
		Primary:      "a/m",
		Fallbacks:    []string{"a/m", "b/m", "a/m"},
		AutoDiscover: true,
	}, newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, []domain.DescriptorKey{key("a"), key("b")}, chain.Keys())
	assert.Len(t, factory.created, 2)
}

func TestBuildChainSkipsUnavailable(t *testing.T) {
	table := testTable(t, "alpha", "beta", "gamma")
	factory := &fakeFactory{errs: map[string]error{
		"alpha": fmt.Errorf("%w: ALPHA_KEY is not set", domain.ErrUnavailable),
		"gamma": fmt.Errorf("%w: library not linked", domain.ErrUnavailable),
	}}
	chain, err := BuildChain(table, factory, ChainConfig{
		Primary:      "alpha/m",
		Fallbacks:    []string{"beta/m"},
		AutoDiscover: true,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []domain.DescriptorKey{key("beta")}, chain.Keys())
	assert.Equal(t, OriginFallback, chain.Entries()[0].Origin)
}

func TestBuildChainNoAutoDiscover(t *testing.T) {
	table := testTable(t, "a", "b", "c")
	chain, err := BuildChain(table, &fakeFactory{}, ChainConfig{Primary: "b/m"}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []domain.DescriptorKey{key("b")}, chain.Keys())
}

func TestBuildChainUnknownRef(t *testing.T) {
	table := testTable(t, "a")
	_, err := BuildChain(table, &fakeFactory{}, ChainConfig{Primary: "a/m", Fallbacks: []string{"zeta/m"}}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "zeta")
}

func TestBuildChainConfigurationErrorAborts(t *testing.T) {
	table := testTable(t, "a", "b")
	factory := &fakeFactory{errs: map[string]error{
		"b": fmt.Errorf("%w: bad base url", domain.ErrConfiguration),
	}}
	_, err := BuildChain(table, factory, ChainConfig{Primary: "a/m", AutoDiscover: true}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBuildChainEmpty(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChainConfig
		errs map[string]error
	}{
		{"nothing configured", ChainConfig{}, nil},
		{"everything unavailable", ChainConfig{Primary: "a/m", AutoDiscover: true}, map[string]error{
			"a": domain.ErrUnavailable,
			"b": domain.ErrUnavailable,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildChain(testTable(t, "a", "b"), &fakeFactory{errs: tt.errs}, tt.cfg, newTestLogger())
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestNewChain(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	chain, err := NewChain(a, b, newFake("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Len())
	assert.Equal(t, OriginPrimary, chain.Entries()[0].Origin)
	assert.Equal(t, OriginFallback, chain.Entries()[1].Origin)

	_, err = NewChain()
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestChainEntriesIsCopy(t *testing.T) {
	chain, err := NewChain(newFake("a"), newFake("b"))
	require.NoError(t, err)
	entries := chain.Entries()
	entries[0] = entries[1]
	assert.Equal(t, "a", chain.Keys()[0].Provider)
}
