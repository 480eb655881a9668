// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reconciler translates DNS-forwarder and policy-trie events
// into SDN controller commands: the glue between C1/C3 and C5.
package reconciler

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"grimm.is/dnswall/internal/cache"
	"grimm.is/dnswall/internal/logging"
	"grimm.is/dnswall/internal/policy"
	"grimm.is/dnswall/internal/sdnclient"
)

// ControllerClient is the subset of sdnclient.Client the reconciler
// needs, narrowed to ease testing with a fake.
type ControllerClient interface {
	Route(ctx context.Context, nexthop string, ips []net.IP) error
	Block(ctx context.Context, ips []net.IP) error
	Batch(ctx context.Context, commands []sdnclient.Command) error
}

// Reconciler holds the two callbacks registered with the forwarder
// (post-resolution) and the trie (update) and dispatches controller
// commands on their firing.
type Reconciler struct {
	Controller ControllerClient
	Cache      *cache.Cache

	logger *logging.Logger
}

// New returns a Reconciler issuing commands to controller and
// consulting c for the domain's last-resolved addresses on trie
// updates.
func New(controller ControllerClient, c *cache.Cache) *Reconciler {
	return &Reconciler{
		Controller: controller,
		Cache:      c,
		logger:     logging.WithComponent("reconciler"),
	}
}

// OnPostResolution is registered as the forwarder's PostResolutionFunc.
// It does not batch across separate DNS events: each call issues at
// most one controller request.
func (r *Reconciler) OnPostResolution(ctx context.Context, rule *policy.Rule, ips []net.IP) error {
	id := uuid.NewString()
	log := r.logger.WithComponent("post-resolution")

	switch {
	case rule.Route != "":
		if err := r.Controller.Route(ctx, rule.Route, ips); err != nil {
			log.Warn("route call failed", "correlation_id", id, "domain", rule.Domain, "error", err)
			return err
		}
		log.Info("route installed", "correlation_id", id, "domain", rule.Domain, "nexthop", rule.Route, "ips", ipStrings(ips))
	case rule.Block:
		if err := r.Controller.Block(ctx, ips); err != nil {
			log.Warn("block call failed", "correlation_id", id, "domain", rule.Domain, "error", err)
			return err
		}
		log.Info("block installed", "correlation_id", id, "domain", rule.Domain, "ips", ipStrings(ips))
	}
	return nil
}

// OnTrieUpdate is registered as the trie's UpdateCallback, fired
// synchronously during a CowInsert's critical section before the root
// swap. It looks up the domain's cached A answer to discover the IPs
// already in effect, and reconciles the forwarding plane accordingly.
//
// block->route issues a single route call, since the controller's
// route installation supersedes the block flow at the flow-table
// level. route->block must explicitly withdraw the kernel route,
// since routes outlive flow rules, so it issues a batch of
// [block-flow, remove-route].
func (r *Reconciler) OnTrieUpdate(ctx context.Context, domain, oldAction, newAction, oldVal, newVal string) error {
	cached, ok := r.Cache.Get(cache.Key{Name: dns.Fqdn(domain), Qtype: dns.TypeA})
	if !ok {
		r.logger.Debug("rule not yet actively enforced, nothing to reconcile", "domain", domain)
		return nil
	}

	var ips []net.IP
	for _, rr := range cached.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil
	}

	id := uuid.NewString()
	log := r.logger.WithComponent("trie-update")

	switch {
	case oldAction == "block" && newAction == "route":
		if err := r.Controller.Route(ctx, newVal, ips); err != nil {
			log.Warn("route call failed", "correlation_id", id, "domain", domain, "error", err)
			return err
		}
		log.Info("block->route reconciled", "correlation_id", id, "domain", domain, "nexthop", newVal)

	case oldAction == "route" && newAction == "block":
		commands := []sdnclient.Command{
			{Type: "flow", Action: "block", IPs: ipStrings(ips)},
			{Type: "route", Action: "remove", IPs: ipStrings(ips)},
		}
		if err := r.Controller.Batch(ctx, commands); err != nil {
			log.Warn("batch call failed", "correlation_id", id, "domain", domain, "error", err)
			return err
		}
		log.Info("route->block reconciled", "correlation_id", id, "domain", domain)
	}
	return nil
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}
