// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupExactPrecedence(t *testing.T) {
	tr := New()
	tr.Insert("example.com", &Rule{Domain: "example.com", Block: true})
	tr.Insert("*.example.com", &Rule{Domain: "*.example.com", Route: "10.0.0.1"})

	rule, err := tr.Lookup("example.com")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.True(t, rule.Block)
}

func TestLookupWildcardSpecificity(t *testing.T) {
	tr := New()
	tr.Insert("*.example.com", &Rule{Domain: "*.example.com", Block: true})
	tr.Insert("api.example.com", &Rule{Domain: "api.example.com", Route: "10.0.0.1"})

	rule, err := tr.Lookup("api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", rule.Route)

	rule, err = tr.Lookup("web.example.com")
	require.NoError(t, err)
	assert.True(t, rule.Block)
}

func TestLookupEmptyDomainErrors(t *testing.T) {
	tr := New()
	_, err := tr.Lookup("")
	assert.Error(t, err)
}

func TestLookupNoMatch(t *testing.T) {
	tr := New()
	rule, err := tr.Lookup("nowhere.net")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestCowInsertRoundTrip(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true}))

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.True(t, rule.Block)
}

func TestCowInsertBlockToRouteFiresCallback(t *testing.T) {
	tr := New()
	ctx := context.Background()

	var gotOld, gotNew, gotOldVal, gotNewVal string
	tr.OnUpdate(func(_ context.Context, domain, oldAction, newAction, oldVal, newVal string) error {
		gotOld, gotNew, gotOldVal, gotNewVal = oldAction, newAction, oldVal, newVal
		assert.Equal(t, "x.com", domain)
		return nil
	})

	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true}))
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Route: "10.0.0.1"}))

	assert.Equal(t, "block", gotOld)
	assert.Equal(t, "route", gotNew)
	assert.Equal(t, "", gotOldVal)
	assert.Equal(t, "10.0.0.1", gotNewVal)

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.False(t, rule.Block)
	assert.Equal(t, "10.0.0.1", rule.Route)
}

func TestCowInsertRouteToBlockFiresCallback(t *testing.T) {
	tr := New()
	ctx := context.Background()

	var gotOld, gotNew, gotOldVal, gotNewVal string
	tr.OnUpdate(func(_ context.Context, domain, oldAction, newAction, oldVal, newVal string) error {
		gotOld, gotNew, gotOldVal, gotNewVal = oldAction, newAction, oldVal, newVal
		return nil
	})

	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Route: "10.0.0.1"}))
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true}))

	assert.Equal(t, "route", gotOld)
	assert.Equal(t, "block", gotNew)
	assert.Equal(t, "10.0.0.1", gotOldVal)
	assert.Equal(t, "", gotNewVal)

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.True(t, rule.Block)
	assert.Equal(t, "", rule.Route)
}

func TestDirectiveExclusivity(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true}))
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Route: "1.2.3.4"}))

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.False(t, rule.Block && rule.Route != "")
}

func TestCowRemoveWholeRule(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true}))

	found, err := tr.CowRemove(ctx, "x.com", "")
	require.NoError(t, err)
	assert.True(t, found)

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestCowRemoveSingleDirectiveDeletesEmptyRule(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true, DBR: true}))

	found, err := tr.CowRemove(ctx, "x.com", "block")
	require.NoError(t, err)
	assert.True(t, found)

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestCowRemoveNotFound(t *testing.T) {
	tr := New()
	found, err := tr.CowRemove(context.Background(), "nowhere.com", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPurgeEmptiesTrie(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.CowInsert(ctx, "x.com", &Rule{Block: true}))
	tr.Purge()

	rule, err := tr.Lookup("x.com")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestRebuildReplacesAtomically(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.CowInsert(ctx, "old.com", &Rule{Block: true}))

	tr.Rebuild([]SeedRule{
		{Domain: "new.com", Rule: &Rule{Domain: "new.com", Route: "10.0.0.2"}},
	})

	rule, err := tr.Lookup("old.com")
	require.NoError(t, err)
	assert.Nil(t, rule, "rebuild must discard the prior trie contents")

	rule, err = tr.Lookup("new.com")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "10.0.0.2", rule.Route)
}

func TestAllRulesFlat(t *testing.T) {
	tr := New()
	tr.Insert("google.com", &Rule{Domain: "google.com", Block: true})
	tr.Insert("*.youtube.com", &Rule{Domain: "*.youtube.com", Route: "10.0.0.1"})

	flat := tr.AllRulesFlat()
	assert.Len(t, flat, 2)

	domains := map[string]bool{}
	for _, f := range flat {
		domains[f.Domain] = true
	}
	assert.True(t, domains["google.com"])
	assert.True(t, domains["*.youtube.com"])
}
