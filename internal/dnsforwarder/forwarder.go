// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnsforwarder implements dnswall's UDP DNS responder: the
// per-query pipeline that consults the policy trie and response
// cache, forwards to upstream resolvers with failover, and fires a
// post-resolution callback for domains under active enforcement.
package dnsforwarder

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"grimm.is/dnswall/internal/cache"
	"grimm.is/dnswall/internal/logging"
	"grimm.is/dnswall/internal/metrics"
	"grimm.is/dnswall/internal/policy"
	"grimm.is/dnswall/internal/querylog"
	"grimm.is/dnswall/internal/services"
)

// DefaultUpstreamTimeout is the per-upstream query timeout used when a
// Forwarder is constructed with a zero UpstreamTimeout.
const DefaultUpstreamTimeout = 3 * time.Second

// DefaultCacheTTL is the floor applied when an upstream response
// carries no cacheable A records.
const DefaultCacheTTL = 900 * time.Second

// PostResolutionFunc is invoked after an upstream response is received
// for a domain whose rule carries DBR ("decide by resolution"). It
// receives the matched rule and every A-record address resolved.
// Errors are logged by the caller and never block the client reply.
type PostResolutionFunc func(ctx context.Context, rule *policy.Rule, ips []net.IP) error

// Forwarder answers DNS queries over UDP, enforcing the policy trie
// and caching upstream responses.
type Forwarder struct {
	Trie  *policy.Trie
	Cache *cache.Cache

	// Addr is the UDP listen address used by Start; ListenAndServe
	// callers pass their own address directly instead.
	Addr string

	// DefaultUpstreams is used when a matched rule carries no
	// per-domain upstream override.
	DefaultUpstreams []net.IP
	UpstreamTimeout  time.Duration
	CacheTTLFloor    time.Duration
	// UpstreamPort overrides the port used when dialing upstream
	// resolvers; defaults to 53. Tests point this at a local fake
	// upstream server.
	UpstreamPort int

	PostResolution PostResolutionFunc

	// QueryLog, when set, receives one Entry per served query,
	// recorded asynchronously so logging never delays the reply.
	QueryLog *querylog.Store

	// Metrics, when set, is updated with cache/block/query counters
	// on every served request.
	Metrics *metrics.Metrics

	logger  *logging.Logger
	sf      singleflight.Group
	running atomic.Bool

	server *dns.Server
}

// New returns a Forwarder reading policy from trie and caching
// responses in c. Callers set DefaultUpstreams and PostResolution
// before calling ListenAndServe.
func New(trie *policy.Trie, c *cache.Cache) *Forwarder {
	return &Forwarder{
		Trie:            trie,
		Cache:           c,
		UpstreamTimeout: DefaultUpstreamTimeout,
		CacheTTLFloor:   DefaultCacheTTL,
		UpstreamPort:    53,
		logger:          logging.WithComponent("dnsforwarder"),
	}
}

// ListenAndServe binds addr (host:port) and serves UDP DNS queries
// until Shutdown is called or an unrecoverable socket error occurs.
func (f *Forwarder) ListenAndServe(addr string) error {
	f.server = &dns.Server{Addr: addr, Net: "udp", Handler: dns.HandlerFunc(f.ServeDNS)}
	f.logger.Info("listening", "addr", addr)
	return f.server.ListenAndServe()
}

// Shutdown closes the UDP socket, draining in-flight handlers.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	if f.server == nil {
		return nil
	}
	return f.server.ShutdownContext(ctx)
}

// Name identifies this service for cmd/dnswalld's lifecycle reporting.
func (f *Forwarder) Name() string { return "dns-forwarder" }

// Start binds Addr and serves in the background, returning once the
// listener is up. ListenAndServe errors after startup are logged, not
// returned, since the caller has already moved on to starting other
// services.
func (f *Forwarder) Start(ctx context.Context) error {
	f.server = &dns.Server{Addr: f.Addr, Net: "udp", Handler: dns.HandlerFunc(f.ServeDNS)}
	errCh := make(chan error, 1)
	var started atomic.Bool
	f.server.NotifyStartedFunc = func() {
		started.Store(true)
		errCh <- nil
	}
	go func() {
		if err := f.server.ListenAndServe(); err != nil {
			if started.Load() {
				f.logger.Error("listener stopped", "error", err)
			} else {
				errCh <- err
			}
		}
		f.running.Store(false)
	}()
	f.logger.Info("listening", "addr", f.Addr)
	if err := <-errCh; err != nil {
		return err
	}
	f.running.Store(true)
	return nil
}

// Stop shuts the forwarder down, satisfying services.Service.
func (f *Forwarder) Stop(ctx context.Context) error {
	err := f.Shutdown(ctx)
	f.running.Store(false)
	return err
}

// Status reports whether the UDP listener is active.
func (f *Forwarder) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: f.Name(), Running: f.running.Load()}
}

// ServeDNS implements the per-request pipeline described for the
// forwarder: rule lookup, cache consult, block short-circuit,
// upstream forwarding with failover, response caching, and the
// post-resolution callback for DBR rules.
func (f *Forwarder) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	if len(req.Question) != 1 {
		return
	}
	start := time.Now()
	q := req.Question[0]
	name := dns.Fqdn(q.Name)
	canonical := canonicalize(name)

	rule, err := f.Trie.Lookup(canonical)
	if err != nil {
		f.logger.Warn("rule lookup failed", "name", canonical, "error", err)
		rule = nil
	}
	matched := ""
	if rule != nil {
		matched = rule.Domain
	}

	if q.Qtype == dns.TypeAAAA {
		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Rcode = dns.RcodeSuccess
		w.WriteMsg(resp)
		f.logQuery(w, canonical, q.Qtype, dns.RcodeSuccess, false, "", matched, start)
		f.countQuery("aaaa_suppressed")
		return
	}

	key := cache.Key{Name: name, Qtype: q.Qtype}
	blocked := rule != nil && rule.Block

	if cached, hit := f.Cache.Get(key); hit {
		if f.Metrics != nil {
			f.Metrics.CacheHits.Inc()
		}
		if !blocked {
			reply := cached.Copy()
			reply.Id = req.Id
			w.WriteMsg(reply)
			f.logQuery(w, canonical, q.Qtype, reply.Rcode, false, "cache", matched, start)
			f.countQuery("cache")
			return
		}
	} else if f.Metrics != nil {
		f.Metrics.CacheMisses.Inc()
	}

	if blocked {
		nx := new(dns.Msg)
		nx.SetRcode(req, dns.RcodeNameError)
		w.WriteMsg(nx)
		if f.Metrics != nil {
			f.Metrics.BlockedQueries.Inc()
		}
	}

	upstreams := f.DefaultUpstreams
	if rule != nil && len(rule.Upstream) > 0 {
		upstreams = rule.Upstream
	}

	port := f.UpstreamPort
	if port == 0 {
		port = 53
	}
	resp, sfErr := f.forwardSingleflight(req, upstreams, port)
	if sfErr != nil {
		f.logger.Warn("upstream forward failed", "name", canonical, "error", sfErr)
		f.logQuery(w, canonical, q.Qtype, dns.RcodeServerFailure, blocked, "", matched, start)
		f.countQuery("servfail")
		return
	}

	ttl := cache.DeriveTTL(resp, f.CacheTTLFloor)
	f.Cache.Put(key, resp, ttl)

	if rule != nil && rule.DBR {
		ips := extractA(resp)
		if f.PostResolution != nil && len(ips) > 0 {
			go func() {
				if err := f.PostResolution(context.Background(), rule, ips); err != nil {
					f.logger.Warn("post-resolution callback failed", "domain", canonical, "error", err)
				}
			}()
		}
	}

	if !blocked {
		reply := resp.Copy()
		reply.Id = req.Id
		w.WriteMsg(reply)
	}

	f.logQuery(w, canonical, q.Qtype, resp.Rcode, blocked, "upstream", matched, start)
	if blocked {
		f.countQuery("blocked")
	} else {
		f.countQuery("ok")
	}
}

// countQuery increments the queries-total counter for result, a no-op
// when no Metrics is wired.
func (f *Forwarder) countQuery(result string) {
	if f.Metrics != nil {
		f.Metrics.QueriesTotal.WithLabelValues(result).Inc()
	}
}

// logQuery asynchronously records one query-log entry so logging
// never delays the client reply. matched is the domain pattern the
// policy trie matched, "" when no rule applied.
func (f *Forwarder) logQuery(w dns.ResponseWriter, domain string, qtype uint16, rcode int, blocked bool, source string, matched string, start time.Time) {
	if f.QueryLog == nil {
		return
	}
	clientIP := ""
	if addr := w.RemoteAddr(); addr != nil {
		clientIP = addr.String()
	}
	entry := querylog.Entry{
		Timestamp:  start,
		ClientIP:   clientIP,
		Domain:     domain,
		Type:       dns.TypeToString[qtype],
		RCode:      dns.RcodeToString[rcode],
		Upstream:   source,
		DurationMs: time.Since(start).Milliseconds(),
		Blocked:    blocked,
		Matched:    matched,
	}
	go f.QueryLog.Record(entry)
}

// forwardSingleflight collapses concurrent identical queries (same
// name and qtype) into a single upstream round trip.
func (f *Forwarder) forwardSingleflight(req *dns.Msg, upstreams []net.IP, port int) (*dns.Msg, error) {
	if len(req.Question) == 0 {
		return forward(req, upstreams, port, f.UpstreamTimeout), nil
	}
	q := req.Question[0]
	sfKey := q.Name + "|" + dns.TypeToString[q.Qtype]

	v, err, _ := f.sf.Do(sfKey, func() (any, error) {
		return forward(req, upstreams, port, f.UpstreamTimeout), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dns.Msg).Copy(), nil
}

// forward tries each upstream in order with timeout, returning the
// first successful response. If every upstream fails, it synthesizes
// SERVFAIL.
func forward(req *dns.Msg, upstreams []net.IP, port int, timeout time.Duration) *dns.Msg {
	c := &dns.Client{Timeout: timeout}
	for _, up := range upstreams {
		resp, _, err := c.Exchange(req, net.JoinHostPort(up.String(), fmt.Sprintf("%d", port)))
		if err == nil && resp != nil {
			return resp
		}
	}
	fail := new(dns.Msg)
	fail.SetRcode(req, dns.RcodeServerFailure)
	return fail
}

func extractA(resp *dns.Msg) []net.IP {
	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	return ips
}

// canonicalize strips the trailing dot from an FQDN for trie lookups,
// which store domains without it.
func canonicalize(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		return name[:len(name)-1]
	}
	return name
}
