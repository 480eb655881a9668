// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"grimm.is/dnswall/internal/errors"
	"grimm.is/dnswall/internal/logging"
)

type lineErr struct {
	line int
	msg  string
}

// Load parses path: a single file, or every regular file directly under
// a directory, concatenated in lexical order. Syntax and semantic
// errors are collected and reported with their line numbers, matching
// the conf manager's fail-fast-but-report-everything behavior.
func Load(path string) (*Config, error) {
	files, err := filesUnder(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New(errors.KindNotFound, "config: no config file found in "+path)
	}

	cfg := Default()
	var defaultUpstreams []net.IP
	var staticRecords []StaticRecord
	var serverRules, addressRules, blockRules, routeRules []RuleSeed
	var lineErrs []lineErr

	lineNum := 0
	for _, f := range files {
		fh, err := os.Open(f)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindUnavailable, "config: open %s", f)
		}

		scanner := bufio.NewScanner(fh)
		for scanner.Scan() {
			lineNum++
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			eq := strings.Index(line, "=")
			if eq == -1 {
				lineErrs = append(lineErrs, lineErr{lineNum, "missing '=' in configuration line: " + line})
				continue
			}

			directive := strings.TrimSpace(line[:eq])
			value := strings.TrimSpace(line[eq+1:])

			switch directive {
			case "listen-address":
				ip := net.ParseIP(value)
				if ip == nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid IP address in listen-address: " + value})
					continue
				}
				cfg.ListenAddress = ip

			case "listen-port":
				port, err := strconv.Atoi(value)
				if err != nil || port < 1 || port > 65535 {
					lineErrs = append(lineErrs, lineErr{lineNum, "port must be between 1 and 65535: " + value})
					continue
				}
				cfg.ListenPort = port

			case "cache-size":
				size, err := strconv.Atoi(value)
				if err != nil || size < 0 || size > 65535 {
					lineErrs = append(lineErrs, lineErr{lineNum, "cache size must be between 0 and 65535: " + value})
					continue
				}
				cfg.CacheSize = size

			case "server":
				if !strings.HasPrefix(value, "/") {
					ip := net.ParseIP(value)
					if ip == nil {
						lineErrs = append(lineErrs, lineErr{lineNum, "invalid upstream IP address: " + value})
						continue
					}
					defaultUpstreams = append(defaultUpstreams, ip)
					continue
				}
				domain, ip, err := parseDomainValue(value)
				if err != nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid server directive: " + err.Error()})
					continue
				}
				upstream := net.ParseIP(ip)
				if upstream == nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid upstream IP in server directive: " + ip})
					continue
				}
				serverRules = append(serverRules, mergeUpstream(serverRules, domain, upstream))

			case "address":
				domain, ip, err := parseDomainValue(value)
				if err != nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid address directive: " + err.Error()})
					continue
				}
				addr := net.ParseIP(ip)
				if addr == nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid static IP address: " + ip})
					continue
				}
				staticRecords = append(staticRecords, StaticRecord{Domain: domain, IP: addr})
				addressRules = append(addressRules, RuleSeed{Domain: domain, Address: addr})

			case "block":
				if !strings.HasPrefix(value, "/") || strings.Index(value[1:], "/") == -1 {
					lineErrs = append(lineErrs, lineErr{lineNum, "missing '/' in block directive: " + value})
					continue
				}
				second := strings.Index(value[1:], "/")
				domain := strings.TrimSpace(value[1 : second+1])
				if domain == "" {
					lineErrs = append(lineErrs, lineErr{lineNum, "empty domain in block directive"})
					continue
				}
				blockRules = append(blockRules, RuleSeed{Domain: domain, Block: true})

			case "route":
				domain, gw, err := parseDomainValue(value)
				if err != nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid route directive: " + err.Error()})
					continue
				}
				nexthop := net.ParseIP(gw)
				if nexthop == nil {
					lineErrs = append(lineErrs, lineErr{lineNum, "invalid gateway in route directive: " + gw})
					continue
				}
				routeRules = append(routeRules, RuleSeed{Domain: domain, Route: nexthop})

			default:
				lineErrs = append(lineErrs, lineErr{lineNum, "unknown directive: " + directive})
			}
		}
		fh.Close()
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, errors.KindInternal, "config: reading %s", f)
		}
	}

	if len(lineErrs) > 0 {
		var b strings.Builder
		b.WriteString("configuration errors found")
		for _, le := range lineErrs {
			b.WriteString("\nline ")
			b.WriteString(strconv.Itoa(le.line))
			b.WriteString(": ")
			b.WriteString(le.msg)
		}
		return nil, errors.New(errors.KindValidation, b.String())
	}

	cfg.DefaultUpstreams = defaultUpstreams
	cfg.StaticRecords = staticRecords
	cfg.Rules = mergeRules(serverRules, addressRules, blockRules, routeRules)
	warnAddressConflicts(cfg.Rules)

	return &cfg, nil
}

// warnAddressConflicts logs a structured warning for every address=
// rule whose domain collides, at a different specificity, with a
// block=/route= rule on an ancestor or descendant domain: the static
// pin silently overrides (or is overridden by) the wildcard rule for
// that branch of the trie, matching flywall's loadBlocklistsFromConfig
// warn-and-continue posture.
func warnAddressConflicts(rules []RuleSeed) {
	for _, r := range rules {
		if r.Address == nil {
			continue
		}
		for _, other := range rules {
			if other.Domain == r.Domain {
				continue
			}
			if !other.Block && other.Route == nil {
				continue
			}
			if !relatedDomains(r.Domain, other.Domain) {
				continue
			}
			directive := "route"
			if other.Block {
				directive = "block"
			}
			logging.Warn("address rule collides with a rule at different specificity",
				"domain", r.Domain, "conflicting_directive", directive, "conflicting_domain", other.Domain)
		}
	}
}

// relatedDomains reports whether a and b share a suffix relationship
// on label boundaries (a is a subdomain of b, or vice versa). A leading
// "*." wildcard marker is stripped before comparing.
func relatedDomains(a, b string) bool {
	a = strings.TrimPrefix(a, "*.")
	b = strings.TrimPrefix(b, "*.")
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// mergeUpstream accumulates a per-domain server=/dom/ip line into the
// existing RuleSeed for that domain if one was already parsed earlier
// in the file set, per spec.md's Open Question 2: the upstream field is
// list-valued even though the grammar admits one IP per line.
func mergeUpstream(existing []RuleSeed, domain string, ip net.IP) RuleSeed {
	for i := range existing {
		if existing[i].Domain == domain {
			existing[i].Upstream = append(existing[i].Upstream, ip)
			return existing[i]
		}
	}
	return RuleSeed{Domain: domain, Upstream: []net.IP{ip}}
}

// parseDomainValue splits a "/domain/value" directive body into its
// domain and trailing value, mirroring config.py's find-second-slash
// approach.
func parseDomainValue(value string) (domain, rest string, err error) {
	if !strings.HasPrefix(value, "/") {
		return "", "", errors.New(errors.KindValidation, "missing leading '/'")
	}
	second := strings.Index(value[1:], "/")
	if second == -1 {
		return "", "", errors.New(errors.KindValidation, "missing '/'")
	}
	second++ // account for the slice offset above

	domain = strings.TrimSpace(value[1:second])
	rest = strings.TrimSpace(value[second+1:])
	if domain == "" {
		return "", "", errors.New(errors.KindValidation, "empty domain")
	}
	if rest == "" {
		return "", "", errors.New(errors.KindValidation, "empty value")
	}
	return domain, rest, nil
}

// mergeRules combines the four directive batches into one rule list per
// domain, later batches winning field-by-field on repeat, matching
// config.py's _merge_rules order: server, address, block, route.
func mergeRules(batches ...[]RuleSeed) []RuleSeed {
	index := map[string]int{}
	var out []RuleSeed

	for _, batch := range batches {
		for _, rule := range batch {
			if i, ok := index[rule.Domain]; ok {
				out[i] = mergeRuleSeed(out[i], rule)
				continue
			}
			index[rule.Domain] = len(out)
			out = append(out, rule)
		}
	}
	return out
}

func mergeRuleSeed(existing, incoming RuleSeed) RuleSeed {
	out := existing
	if incoming.Block {
		out.Block = true
		out.Route = nil
	}
	if incoming.Route != nil {
		out.Route = incoming.Route
		out.Block = false
	}
	if len(incoming.Upstream) > 0 {
		out.Upstream = incoming.Upstream
	}
	if incoming.Address != nil {
		out.Address = incoming.Address
	}
	return out
}

func filesUnder(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "config: %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "config: read dir %s", path)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
