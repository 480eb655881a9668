// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"net"
	"strings"
)

// ValidDomain reports whether domain satisfies spec.md's REST validation
// rules: length <=253, labels <=63, labels alphanumeric+hyphen, not
// starting/ending with hyphen. A leading "*." wildcard marker is
// stripped before label validation.
func ValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}

	rest := domain
	if strings.HasPrefix(rest, "*.") {
		rest = rest[2:]
	}

	labels := strings.Split(rest, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !isAlnum(c) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ValidIPv4 reports whether value parses as an IPv4 literal.
func ValidIPv4(value string) bool {
	ip := net.ParseIP(value)
	return ip != nil && ip.To4() != nil
}
