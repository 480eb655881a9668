// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsforwarder

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"grimm.is/dnswall/internal/cache"
)

// PinStatic synthesizes an A response for domain -> ip and caches it
// with the pinned sentinel TTL, so it survives PurgeDynamic. Used at
// startup for every address= directive and by the REST handler when
// an address rule is added live.
func (f *Forwarder) PinStatic(domain string, ip net.IP) {
	name := dns.Fqdn(domain)
	resp := new(dns.Msg)
	resp.SetQuestion(name, dns.TypeA)
	resp.Response = true
	resp.Rcode = dns.RcodeSuccess

	rr, err := dns.NewRR(fmt.Sprintf("%s 3600 IN A %s", name, ip.String()))
	if err != nil {
		f.logger.Warn("failed to build static rrset", "domain", domain, "error", err)
		return
	}
	resp.Answer = append(resp.Answer, rr)

	key := cache.Key{Name: name, Qtype: dns.TypeA}
	f.Cache.Put(key, resp, cache.MaxTTL*time.Second)
}
