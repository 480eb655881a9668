// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/miekg/dns"

	"grimm.is/dnswall/internal/cache"
	"grimm.is/dnswall/internal/dnsforwarder"
	"grimm.is/dnswall/internal/errors"
	"grimm.is/dnswall/internal/logging"
	"grimm.is/dnswall/internal/metrics"
	"grimm.is/dnswall/internal/policy"
	"grimm.is/dnswall/internal/querylog"
	"grimm.is/dnswall/internal/sdnclient"
)

// RulesHandler implements the policy REST control surface: rule CRUD,
// batch rebuild, purge, plus the supplemented query-log and
// controller-health endpoints.
type RulesHandler struct {
	Trie       *policy.Trie
	Forwarder  *dnsforwarder.Forwarder
	Controller *sdnclient.Client
	QueryLog   *querylog.Store
	Metrics    *metrics.Metrics

	logger *logging.Logger
}

// NewRulesHandler wires a RulesHandler to the engine's shared trie,
// forwarder and controller client.
func NewRulesHandler(trie *policy.Trie, fwd *dnsforwarder.Forwarder, controller *sdnclient.Client, ql *querylog.Store) *RulesHandler {
	return &RulesHandler{
		Trie:       trie,
		Forwarder:  fwd,
		Controller: controller,
		QueryLog:   ql,
		logger:     logging.WithComponent("api.rules"),
	}
}

// RegisterRoutes mounts every endpoint on router.
func (h *RulesHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rules", h.handleListRules).Methods(http.MethodGet)
	router.HandleFunc("/api/rules/{domain}", h.handleGetRule).Methods(http.MethodGet)
	router.HandleFunc("/api/rules", h.handleAddRule).Methods(http.MethodPost)
	router.HandleFunc("/api/rules", h.handleRemoveRule).Methods(http.MethodDelete)
	router.HandleFunc("/api/rules/batch", h.handleBatchBuild).Methods(http.MethodPost)
	router.HandleFunc("/api/rules/purge", h.handlePurge).Methods(http.MethodDelete)

	router.HandleFunc("/api/querylog", h.handleQueryLog).Methods(http.MethodGet)
	router.HandleFunc("/api/controller/health", h.handleControllerHealth).Methods(http.MethodGet)
}

type ruleView struct {
	Domain   string   `json:"domain"`
	Block    bool     `json:"block,omitempty"`
	Route    string   `json:"route,omitempty"`
	Upstream []string `json:"upstream,omitempty"`
	Address  string   `json:"address,omitempty"`
	DBR      bool     `json:"dbr,omitempty"`
}

func toView(domain string, r *policy.Rule) ruleView {
	v := ruleView{Domain: domain, Block: r.Block, Route: r.Route, Address: r.Address, DBR: r.DBR}
	for _, ip := range r.Upstream {
		v.Upstream = append(v.Upstream, ip.String())
	}
	return v
}

func (h *RulesHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	flat := h.Trie.AllRulesFlat()
	views := make([]ruleView, 0, len(flat))
	for _, f := range flat {
		views = append(views, toView(f.Domain, f.Rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": views})
}

func (h *RulesHandler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	rule, err := h.Trie.Lookup(domain)
	if err != nil {
		writeError(w, err)
		return
	}
	if rule == nil {
		writeError(w, errors.Errorf(errors.KindNotFound, "no rule for domain %s", domain))
		return
	}
	writeJSON(w, http.StatusOK, toView(domain, rule))
}

type addRuleRequest struct {
	Directive string `json:"directive"`
	Domain    string `json:"domain"`
	Value     string `json:"value"`
}

func (h *RulesHandler) handleAddRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.KindValidation, "api: invalid request body"))
		return
	}

	rule, err := ruleFromDirective(req.Directive, req.Domain, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Trie.CowInsert(r.Context(), req.Domain, rule); err != nil {
		writeError(w, err)
		return
	}

	if req.Directive == "address" {
		h.Forwarder.PinStatic(req.Domain, net.ParseIP(req.Value))
	}
	h.syncTrieGauge()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "added",
		"domain":  req.Domain,
		"elapsed": elapsed(start),
	})
}

type removeRuleRequest struct {
	Domain    string `json:"domain"`
	Directive string `json:"directive"`
}

func (h *RulesHandler) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req removeRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.KindValidation, "api: invalid request body"))
		return
	}

	removed, err := h.Trie.CowRemove(r.Context(), req.Domain, req.Directive)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, errors.Errorf(errors.KindNotFound, "no matching rule for domain %s", req.Domain))
		return
	}

	h.Forwarder.Cache.Remove(cache.Key{Name: dns.Fqdn(req.Domain), Qtype: dns.TypeA})
	h.syncTrieGauge()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "removed",
		"domain":  req.Domain,
		"elapsed": elapsed(start),
	})
}

type batchBuildRequest struct {
	Rules []addRuleRequest `json:"rules"`
}

func (h *RulesHandler) handleBatchBuild(w http.ResponseWriter, r *http.Request) {
	var req batchBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.KindValidation, "api: invalid request body"))
		return
	}

	seeds := make([]policy.SeedRule, 0, len(req.Rules))
	for _, rr := range req.Rules {
		rule, err := ruleFromDirective(rr.Directive, rr.Domain, rr.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		seeds = append(seeds, policy.SeedRule{Domain: rr.Domain, Rule: rule})
	}
	h.Trie.Rebuild(seeds)
	h.syncTrieGauge()

	writeJSON(w, http.StatusOK, map[string]any{"status": "rebuilt", "count": len(req.Rules)})
}

func (h *RulesHandler) handlePurge(w http.ResponseWriter, r *http.Request) {
	h.Trie.Purge()
	h.Forwarder.Cache.PurgeDynamic()
	h.syncTrieGauge()
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// syncTrieGauge reflects the trie's current rule count into the
// TrieRules gauge, a no-op when no Metrics is wired.
func (h *RulesHandler) syncTrieGauge() {
	if h.Metrics == nil {
		return
	}
	h.Metrics.TrieRules.Set(float64(len(h.Trie.AllRulesFlat())))
}

func (h *RulesHandler) handleQueryLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	entries := h.QueryLog.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *RulesHandler) handleControllerHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"recent": h.Controller.Recent()})
}

func elapsed(start time.Time) string {
	return time.Since(start).String()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]string{"error": err.Error()})
}
