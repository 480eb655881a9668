// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reconciler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/dnswall/internal/cache"
	"grimm.is/dnswall/internal/policy"
	"grimm.is/dnswall/internal/sdnclient"
)

type fakeController struct {
	routeCalls []struct {
		nexthop string
		ips     []net.IP
	}
	blockCalls [][]net.IP
	batchCalls [][]sdnclient.Command
	err        error
}

func (f *fakeController) Route(ctx context.Context, nexthop string, ips []net.IP) error {
	f.routeCalls = append(f.routeCalls, struct {
		nexthop string
		ips     []net.IP
	}{nexthop, ips})
	return f.err
}

func (f *fakeController) Block(ctx context.Context, ips []net.IP) error {
	f.blockCalls = append(f.blockCalls, ips)
	return f.err
}

func (f *fakeController) Batch(ctx context.Context, commands []sdnclient.Command) error {
	f.batchCalls = append(f.batchCalls, commands)
	return f.err
}

func TestOnPostResolutionRoute(t *testing.T) {
	fc := &fakeController{}
	r := New(fc, cache.New(10))

	rule := &policy.Rule{Domain: "apple.com", Route: "192.168.2.1", DBR: true}
	err := r.OnPostResolution(context.Background(), rule, []net.IP{net.ParseIP("17.0.0.1")})
	require.NoError(t, err)

	require.Len(t, fc.routeCalls, 1)
	assert.Equal(t, "192.168.2.1", fc.routeCalls[0].nexthop)
	assert.Empty(t, fc.blockCalls)
}

func TestOnPostResolutionBlock(t *testing.T) {
	fc := &fakeController{}
	r := New(fc, cache.New(10))

	rule := &policy.Rule{Domain: "ads.example.com", Block: true, DBR: true}
	err := r.OnPostResolution(context.Background(), rule, []net.IP{net.ParseIP("93.184.216.34")})
	require.NoError(t, err)

	require.Len(t, fc.blockCalls, 1)
	assert.Empty(t, fc.routeCalls)
}

func TestOnTrieUpdateNoCacheEntryIsNoop(t *testing.T) {
	fc := &fakeController{}
	r := New(fc, cache.New(10))

	err := r.OnTrieUpdate(context.Background(), "x.com", "block", "route", "", "10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, fc.routeCalls)
	assert.Empty(t, fc.batchCalls)
}

func seedCache(c *cache.Cache, domain, ip string) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	rr, _ := dns.NewRR(dns.Fqdn(domain) + " 300 IN A " + ip)
	m.Answer = append(m.Answer, rr)
	c.Put(cache.Key{Name: dns.Fqdn(domain), Qtype: dns.TypeA}, m, 300*time.Second)
}

func TestOnTrieUpdateBlockToRouteIssuesSingleRoute(t *testing.T) {
	fc := &fakeController{}
	c := cache.New(10)
	seedCache(c, "x.com", "1.2.3.4")
	r := New(fc, c)

	err := r.OnTrieUpdate(context.Background(), "x.com", "block", "route", "", "10.0.0.1")
	require.NoError(t, err)

	require.Len(t, fc.routeCalls, 1)
	assert.Equal(t, "10.0.0.1", fc.routeCalls[0].nexthop)
	require.Len(t, fc.routeCalls[0].ips, 1)
	assert.Equal(t, "1.2.3.4", fc.routeCalls[0].ips[0].String())
	assert.Empty(t, fc.batchCalls)
}

func TestOnTrieUpdateRouteToBlockIssuesBatch(t *testing.T) {
	fc := &fakeController{}
	c := cache.New(10)
	seedCache(c, "x.com", "1.2.3.4")
	r := New(fc, c)

	err := r.OnTrieUpdate(context.Background(), "x.com", "route", "block", "10.0.0.1", "")
	require.NoError(t, err)

	require.Len(t, fc.batchCalls, 1)
	commands := fc.batchCalls[0]
	require.Len(t, commands, 2)
	assert.Equal(t, "flow", commands[0].Type)
	assert.Equal(t, "block", commands[0].Action)
	assert.Equal(t, "route", commands[1].Type)
	assert.Equal(t, "remove", commands[1].Action)
	assert.Empty(t, fc.routeCalls)
}
