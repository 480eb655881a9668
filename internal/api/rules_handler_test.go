// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/dnswall/internal/cache"
	"grimm.is/dnswall/internal/dnsforwarder"
	"grimm.is/dnswall/internal/policy"
	"grimm.is/dnswall/internal/querylog"
	"grimm.is/dnswall/internal/sdnclient"
)

func newTestHandler(t *testing.T) (*mux.Router, *policy.Trie) {
	t.Helper()
	trie := policy.New()
	c := cache.New(100)
	fwd := dnsforwarder.New(trie, c)
	controller := sdnclient.New("http://127.0.0.1:0")
	ql := querylog.New(10)

	h := NewRulesHandler(trie, fwd, controller, ql)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router, trie
}

func doRequest(router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAddRuleBlock(t *testing.T) {
	router, trie := newTestHandler(t)

	rr := doRequest(router, http.MethodPost, "/api/rules", map[string]string{
		"directive": "block",
		"domain":    "ads.example.com",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "added", resp["status"])
	assert.NotEmpty(t, resp["elapsed"])

	rule, err := trie.Lookup("ads.example.com")
	require.NoError(t, err)
	assert.True(t, rule.Block)
}

func TestAddRuleRejectsInvalidDomain(t *testing.T) {
	router, _ := newTestHandler(t)

	rr := doRequest(router, http.MethodPost, "/api/rules", map[string]string{
		"directive": "block",
		"domain":    "-bad-.com",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddRuleRejectsInvalidValue(t *testing.T) {
	router, _ := newTestHandler(t)

	rr := doRequest(router, http.MethodPost, "/api/rules", map[string]string{
		"directive": "route",
		"domain":    "apple.com",
		"value":     "not-an-ip",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRuleNotFound(t *testing.T) {
	router, _ := newTestHandler(t)
	rr := doRequest(router, http.MethodGet, "/api/rules/nowhere.com", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListRulesAfterAdd(t *testing.T) {
	router, trie := newTestHandler(t)
	require.NoError(t, trie.CowInsert(context.Background(), "x.com", &policy.Rule{Block: true}))

	rr := doRequest(router, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Rules []ruleView `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 1)
	assert.Equal(t, "x.com", resp.Rules[0].Domain)
}

func TestRemoveRuleDeletesTrieEntry(t *testing.T) {
	router, trie := newTestHandler(t)
	require.NoError(t, trie.CowInsert(context.Background(), "x.com", &policy.Rule{Block: true}))

	rr := doRequest(router, http.MethodDelete, "/api/rules", map[string]string{"domain": "x.com"})
	require.Equal(t, http.StatusOK, rr.Code)

	rule, err := trie.Lookup("x.com")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestRemoveRuleNotFound(t *testing.T) {
	router, _ := newTestHandler(t)
	rr := doRequest(router, http.MethodDelete, "/api/rules", map[string]string{"domain": "nowhere.com"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBatchBuildReplacesTrie(t *testing.T) {
	router, trie := newTestHandler(t)
	require.NoError(t, trie.CowInsert(context.Background(), "old.com", &policy.Rule{Block: true}))

	rr := doRequest(router, http.MethodPost, "/api/rules/batch", map[string]any{
		"rules": []map[string]string{
			{"directive": "route", "domain": "new.com", "value": "10.0.0.5"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rule, err := trie.Lookup("old.com")
	require.NoError(t, err)
	assert.Nil(t, rule)

	rule, err = trie.Lookup("new.com")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "10.0.0.5", rule.Route)
}

func TestPurgeClearsTrie(t *testing.T) {
	router, trie := newTestHandler(t)
	require.NoError(t, trie.CowInsert(context.Background(), "x.com", &policy.Rule{Block: true}))

	rr := doRequest(router, http.MethodDelete, "/api/rules/purge", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rule, err := trie.Lookup("x.com")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestControllerHealthEndpoint(t *testing.T) {
	router, _ := newTestHandler(t)
	rr := doRequest(router, http.MethodGet, "/api/controller/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestQueryLogEndpoint(t *testing.T) {
	router, _ := newTestHandler(t)
	rr := doRequest(router, http.MethodGet, "/api/querylog", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
