// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config parses dnswall's line-oriented directive file: the
// dnsmasq-style grammar from the policy engine's seeding configuration,
// not the teacher's HCL surface. One file, or a directory of files
// concatenated in lexical order, produces a default upstream list, a
// static-record seed list, and a flat rule list ready for
// policy.Trie.Insert.
package config

import (
	"net"
)

// Config is the parsed result of one or more directive files.
type Config struct {
	ListenAddress    net.IP
	ListenPort       int
	CacheSize        int
	DefaultUpstreams []net.IP
	StaticRecords    []StaticRecord
	Rules            []RuleSeed
}

// StaticRecord is one address=/domain/ip directive, pinned into the
// cache at startup.
type StaticRecord struct {
	Domain string
	IP     net.IP
}

// RuleSeed is one merged domain's worth of directives, ready to become
// a policy.Rule once loaded by the caller (config has no dependency on
// the policy package, keeping the parser a pure data producer).
type RuleSeed struct {
	Domain   string
	Block    bool
	Route    net.IP
	Upstream []net.IP
	Address  net.IP
}

// Default returns a Config with spec-mandated defaults: listen on
// 127.0.0.1:53, a 1000-entry cache.
func Default() Config {
	return Config{
		ListenAddress: net.ParseIP("127.0.0.1"),
		ListenPort:    53,
		CacheSize:     1000,
	}
}
