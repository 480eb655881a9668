// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"grimm.is/dnswall/internal/errors"
)

// TrieNode is a single label's worth of trie. Labels are stored in
// reverse order: root's child "com" is the TLD, whose child "google"
// represents google.com.
type TrieNode struct {
	children map[string]*TrieNode
	rule     *Rule
}

func newNode() *TrieNode {
	return &TrieNode{children: make(map[string]*TrieNode)}
}

// clone deep-copies a node and its entire subtree, used for COW mutation.
func (n *TrieNode) clone() *TrieNode {
	c := &TrieNode{children: make(map[string]*TrieNode, len(n.children))}
	if n.rule != nil {
		c.rule = n.rule.Clone()
	}
	for label, child := range n.children {
		c.children[label] = child.clone()
	}
	return c
}

// UpdateCallback is invoked synchronously, inside the mutation's critical
// section, whenever a conflicting block/route directive is resolved by an
// insert. It must be awaited before the root swap proceeds.
type UpdateCallback func(ctx context.Context, domain, oldAction, newAction, oldVal, newVal string) error

// Trie is the domain policy store. Reads sample the root pointer
// atomically and need no lock; writes deep-copy the current root,
// mutate the copy, and swap the pointer under writeMu.
type Trie struct {
	root     atomic.Pointer[TrieNode]
	writeMu  sync.Mutex
	updateCB UpdateCallback
}

// New returns an empty Trie.
func New() *Trie {
	t := &Trie{}
	t.root.Store(newNode())
	return t
}

// OnUpdate registers the callback fired on block<->route conflict
// resolution. Only one callback may be registered; later calls replace it.
func (t *Trie) OnUpdate(cb UpdateCallback) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.updateCB = cb
}

func labels(domain string) []string {
	parts := strings.Split(domain, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

// Lookup returns the most specific rule applicable to domain: an exact
// match wins outright; failing that, the deepest matching wildcard wins.
// Looking up an empty domain is an error.
func (t *Trie) Lookup(domain string) (*Rule, error) {
	if domain == "" {
		return nil, errors.New(errors.KindValidation, "policy: lookup of empty domain")
	}

	root := t.root.Load()
	ls := labels(domain)
	depth := len(ls)

	current := root
	var exactRule *Rule
	var wildcardRule *Rule
	exactDepth := 0

	for i, label := range ls {
		if wc, ok := current.children["*"]; ok && wc.rule != nil {
			wildcardRule = wc.rule
		}

		child, ok := current.children[label]
		if !ok {
			break
		}
		current = child
		if current.rule != nil {
			exactRule = current.rule
			exactDepth = i + 1
		}
	}

	if exactRule != nil && exactDepth == depth {
		return exactRule, nil
	}
	if wildcardRule != nil {
		return wildcardRule, nil
	}
	return nil, nil
}

// Insert creates missing nodes along domain's label path and sets the
// leaf rule directly. Used only for the initial, non-atomic batch build
// at startup; it assumes no concurrent readers.
func (t *Trie) Insert(domain string, rule *Rule) {
	root := t.root.Load()
	cur := root
	for _, label := range labels(domain) {
		child, ok := cur.children[label]
		if !ok {
			child = newNode()
			cur.children[label] = child
		}
		cur = child
	}
	cur.rule = rule
}

// SeedRule pairs a domain with the rule to install at it, used by
// Rebuild to repopulate the trie from a flat rule list (e.g. the body
// of a batch-build REST request).
type SeedRule struct {
	Domain string
	Rule   *Rule
}

// Rebuild constructs an entirely new trie from seeds off to the side
// and swaps it in atomically, so no lookup ever observes a
// half-populated tree: the old trie remains live until the new one is
// fully built.
func (t *Trie) Rebuild(seeds []SeedRule) {
	newRoot := newNode()
	for _, s := range seeds {
		cur := newRoot
		for _, label := range labels(s.Domain) {
			child, ok := cur.children[label]
			if !ok {
				child = newNode()
				cur.children[label] = child
			}
			cur = child
		}
		cur.rule = s.Rule
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.root.Store(newRoot)
}

// CowInsert inserts or merges rule at domain via copy-on-write. If a rule
// already exists at domain, directives are merged key-by-key, with
// block/route conflicts resolved per the update callback before the
// swap: block->route removes block and fires the callback with
// (domain, "block", "route", "", newRoute); route->block is symmetric.
func (t *Trie) CowInsert(ctx context.Context, domain string, rule *Rule) error {
	if domain == "" {
		return errors.New(errors.KindValidation, "policy: insert with empty domain")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	oldRoot := t.root.Load()
	ls := labels(domain)

	existing, _ := t.lookupLocked(oldRoot, domain, ls)

	newRoot := oldRoot.clone()
	cur := newRoot
	for _, label := range ls {
		child, ok := cur.children[label]
		if !ok {
			child = newNode()
			cur.children[label] = child
		}
		cur = child
	}

	merged := rule.Clone()
	if merged.Domain == "" {
		merged.Domain = domain
	}

	if existing != nil {
		if existing.Block && rule.Route != "" {
			if err := t.fireUpdate(ctx, domain, "block", "route", "", rule.Route); err != nil {
				return err
			}
		} else if existing.Route != "" && rule.Block {
			if err := t.fireUpdate(ctx, domain, "route", "block", existing.Route, ""); err != nil {
				return err
			}
		}
		merged = merge(existing, rule)
		if merged.Domain == "" {
			merged.Domain = domain
		}
	}

	cur.rule = merged
	t.root.Store(newRoot)
	return nil
}

func (t *Trie) fireUpdate(ctx context.Context, domain, oldAction, newAction, oldVal, newVal string) error {
	if t.updateCB == nil {
		return nil
	}
	return t.updateCB(ctx, domain, oldAction, newAction, oldVal, newVal)
}

// CowRemove removes the rule at domain via copy-on-write. If directive is
// "", the entire rule is deleted; otherwise only that directive is
// cleared, and the rule is deleted outright if nothing but Domain/DBR
// remains. Returns false (not an error) if domain or directive isn't found.
func (t *Trie) CowRemove(ctx context.Context, domain, directive string) (bool, error) {
	if domain == "" {
		return false, errors.New(errors.KindValidation, "policy: remove with empty domain")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	oldRoot := t.root.Load()
	ls := labels(domain)

	existing, _ := t.lookupLocked(oldRoot, domain, ls)
	if existing == nil {
		return false, nil
	}

	newRoot := oldRoot.clone()
	cur := newRoot
	for _, label := range ls {
		cur = cur.children[label]
	}

	switch directive {
	case "":
		cur.rule = nil
	case "block":
		if !existing.Block {
			return false, nil
		}
		cur.rule.Block = false
	case "route":
		if existing.Route == "" {
			return false, nil
		}
		cur.rule.Route = ""
	case "upstream":
		if len(existing.Upstream) == 0 {
			return false, nil
		}
		cur.rule.Upstream = nil
	case "address":
		if existing.Address == "" {
			return false, nil
		}
		cur.rule.Address = ""
	default:
		return false, nil
	}

	if cur.rule.empty() {
		cur.rule = nil
	}

	t.root.Store(newRoot)
	return true, nil
}

// lookupLocked finds the exact node (not wildcard-resolved) at domain's
// path, returning its rule if the full path exists. Callers must hold
// writeMu.
func (t *Trie) lookupLocked(root *TrieNode, domain string, ls []string) (*Rule, *TrieNode) {
	cur := root
	for _, label := range ls {
		child, ok := cur.children[label]
		if !ok {
			return nil, nil
		}
		cur = child
	}
	return cur.rule, cur
}

// Purge discards the entire trie, replacing it with an empty root.
func (t *Trie) Purge() {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.root.Store(newNode())
}

// FlatRule pairs a reconstructed domain name with the rule stored at
// that node, as returned by AllRulesFlat.
type FlatRule struct {
	Domain string
	Rule   *Rule
}

// AllRulesFlat walks the current trie snapshot and returns every rule in
// the tree, reconstructing each domain name from its label path.
func (t *Trie) AllRulesFlat() []FlatRule {
	root := t.root.Load()
	var out []FlatRule
	var walk func(n *TrieNode, path []string)
	walk = func(n *TrieNode, path []string) {
		if n.rule != nil {
			rev := make([]string, len(path))
			for i, p := range path {
				rev[len(path)-1-i] = p
			}
			out = append(out, FlatRule{Domain: strings.Join(rev, "."), Rule: n.rule})
		}
		for label, child := range n.children {
			walk(child, append(path, label))
		}
	}
	walk(root, nil)
	return out
}
