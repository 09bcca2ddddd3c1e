// Package access implements the ordered allow/deny rule list that guards
// connections and request paths.
//
// A rule file holds one rule per line:
//
//	# comment
//	deny  from 10.0.0.*      internal network is not served here
//	allow from 10.0.0.5
//	deny  path /private/*    private area
//	allow from all
//
// Rules are evaluated in file order and the first matching rule decides.
// When nothing matches the request is permitted.
package access

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path"
	"strconv"
	"strings"
)

var (
	ErrRulesUnavailable = errors.New("access: rule source unavailable")
	ErrSyntax           = errors.New("access: syntax error")
)

// SyntaxError reports a malformed rule line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("access: line %d: %s", e.Line, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

type Action int

const (
	Allow Action = iota
	Deny
)

func (a Action) String() string {
	if a == Deny {
		return "deny"
	}
	return "allow"
}

// Target selects what a rule's pattern is matched against.
type Target int

const (
	TargetAddr Target = iota
	TargetPath
)

func (t Target) String() string {
	if t == TargetPath {
		return "path"
	}
	return "from"
}

// Rule is one line of the rule file.
type Rule struct {
	Line    int
	Action  Action
	Target  Target
	Pattern string
	Reason  string

	prefix netip.Prefix // CIDR or exact address
	segs   []string     // dotted wildcard pattern, "*" per segment
	any    bool
}

// Verdict is the outcome of an evaluation. Rule is nil when no rule matched.
type Verdict struct {
	Permitted bool
	Reason    string
	Rule      *Rule
}

// RuleList is an ordered, immutable set of rules. A nil *RuleList permits
// everything.
type RuleList struct {
	rules []Rule
}

// Load reads a rule file. A missing or unreadable file yields an error
// wrapping ErrRulesUnavailable; callers are expected to fail open.
func Load(name string) (*RuleList, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	defer f.Close()
	rl, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rl, nil
}

// Parse reads rules from r.
func Parse(r io.Reader) (*RuleList, error) {
	sc := bufio.NewScanner(r)
	rl := &RuleList{}
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseRule(n, line)
		if err != nil {
			return nil, err
		}
		rl.rules = append(rl.rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	return rl, nil
}

func parseRule(n int, line string) (Rule, error) {
	f := strings.Fields(line)
	if len(f) < 3 {
		return Rule{}, &SyntaxError{Line: n, Msg: "want <allow|deny> <from|path> <pattern> [reason]"}
	}
	r := Rule{Line: n, Pattern: f[2]}
	switch strings.ToLower(f[0]) {
	case "allow":
		r.Action = Allow
	case "deny":
		r.Action = Deny
	default:
		return Rule{}, &SyntaxError{Line: n, Msg: fmt.Sprintf("unknown action %q", f[0])}
	}
	switch strings.ToLower(f[1]) {
	case "from":
		r.Target = TargetAddr
		if err := r.compileAddr(); err != nil {
			return Rule{}, &SyntaxError{Line: n, Msg: err.Error()}
		}
	case "path":
		r.Target = TargetPath
		if !strings.HasPrefix(r.Pattern, "/") {
			return Rule{}, &SyntaxError{Line: n, Msg: fmt.Sprintf("path pattern %q must start with /", r.Pattern)}
		}
		if _, err := path.Match(r.Pattern, "/"); err != nil {
			return Rule{}, &SyntaxError{Line: n, Msg: fmt.Sprintf("bad path pattern %q", r.Pattern)}
		}
	default:
		return Rule{}, &SyntaxError{Line: n, Msg: fmt.Sprintf("unknown target %q", f[1])}
	}
	if len(f) > 3 {
		r.Reason = strings.Join(f[3:], " ")
	} else if r.Action == Deny {
		r.Reason = "access denied by rule " + strconv.Itoa(n)
	}
	return r, nil
}

func (r *Rule) compileAddr() error {
	p := r.Pattern
	switch {
	case p == "all" || p == "*":
		r.any = true
		return nil
	case strings.Contains(p, "/"):
		pfx, err := netip.ParsePrefix(p)
		if err != nil {
			return fmt.Errorf("bad CIDR %q", p)
		}
		r.prefix = pfx.Masked()
		return nil
	}
	if a, err := netip.ParseAddr(p); err == nil {
		r.prefix = netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen())
		return nil
	}
	// Dotted IPv4 with wildcards; a trailing dot means "any remaining".
	segs := strings.Split(strings.TrimSuffix(p, "."), ".")
	if len(segs) > 4 {
		return fmt.Errorf("bad address pattern %q", p)
	}
	for i, s := range segs {
		if s == "*" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 || v > 255 {
			return fmt.Errorf("bad address pattern %q", p)
		}
		segs[i] = strconv.Itoa(v) // "05" matches octet 5
	}
	for len(segs) < 4 {
		segs = append(segs, "*")
	}
	r.segs = segs
	return nil
}

func (r *Rule) matchAddr(a netip.Addr) bool {
	if r.any {
		return true
	}
	a = a.Unmap()
	if r.prefix.IsValid() {
		return r.prefix.Contains(a)
	}
	if !a.Is4() {
		return false
	}
	b := a.As4()
	for i, s := range r.segs {
		if s != "*" && s != strconv.Itoa(int(b[i])) {
			return false
		}
	}
	return true
}

func (r *Rule) matchPath(p string) bool {
	if strings.HasSuffix(r.Pattern, "*") && !strings.ContainsAny(r.Pattern[:len(r.Pattern)-1], "*?[") {
		return strings.HasPrefix(p, r.Pattern[:len(r.Pattern)-1])
	}
	ok, _ := path.Match(r.Pattern, p)
	return ok
}

// Match reports whether the rule applies to addr or p. Path rules never
// match an empty path.
func (r *Rule) Match(addr netip.Addr, p string) bool {
	if r.Target == TargetPath {
		return p != "" && r.matchPath(p)
	}
	return addr.IsValid() && r.matchAddr(addr)
}

func (r *Rule) String() string {
	s := fmt.Sprintf("%s %s %s", r.Action, r.Target, r.Pattern)
	if r.Reason != "" {
		s += " " + r.Reason
	}
	return s
}

// Evaluate walks the rules in order and returns the first match's verdict.
// Pass an empty path to evaluate address rules only, or an invalid addr to
// evaluate path rules only.
func (rl *RuleList) Evaluate(addr netip.Addr, p string) Verdict {
	if rl == nil {
		return Verdict{Permitted: true, Reason: "no rules loaded"}
	}
	for i := range rl.rules {
		r := &rl.rules[i]
		if r.Match(addr, p) {
			return Verdict{Permitted: r.Action == Allow, Reason: r.Reason, Rule: r}
		}
	}
	return Verdict{Permitted: true, Reason: "no matching rule"}
}

// Len returns the number of rules.
func (rl *RuleList) Len() int {
	if rl == nil {
		return 0
	}
	return len(rl.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (rl *RuleList) Rules() []Rule {
	if rl == nil {
		return nil
	}
	return append([]Rule(nil), rl.rules...)
}
