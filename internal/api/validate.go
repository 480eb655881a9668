// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net"

	"grimm.is/dnswall/internal/config"
	"grimm.is/dnswall/internal/errors"
	"grimm.is/dnswall/internal/policy"
)

// ruleFromDirective validates directive/domain/value per spec.md §4.6
// and builds the policy.Rule to hand to CowInsert/Insert.
func ruleFromDirective(directive, domain, value string) (*policy.Rule, error) {
	if !config.ValidDomain(domain) {
		return nil, errors.Errorf(errors.KindValidation, "api: invalid domain %q", domain)
	}

	rule := &policy.Rule{Domain: domain}

	switch directive {
	case "block":
		if value != "" {
			return nil, errors.New(errors.KindValidation, "api: block directive takes no value")
		}
		rule.Block = true
		rule.DBR = true

	case "route":
		if !config.ValidIPv4(value) {
			return nil, errors.Errorf(errors.KindValidation, "api: invalid route gateway %q", value)
		}
		rule.Route = value
		rule.DBR = true

	case "server":
		if !config.ValidIPv4(value) {
			return nil, errors.Errorf(errors.KindValidation, "api: invalid upstream IP %q", value)
		}
		rule.Upstream = []net.IP{net.ParseIP(value)}

	case "address":
		if !config.ValidIPv4(value) {
			return nil, errors.Errorf(errors.KindValidation, "api: invalid static address %q", value)
		}
		rule.Address = value

	default:
		return nil, errors.Errorf(errors.KindValidation, "api: unknown directive %q", directive)
	}

	return rule, nil
}
