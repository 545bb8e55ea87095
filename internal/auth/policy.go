package auth

import (
	"net/http"
	"strings"
)

// Rule grants access to requests matching a method and path pattern.
// An empty Method matches any method; a Pattern ending in "/" matches by prefix.
type Rule struct {
	Method  string
	Pattern string
	// Suffix, when set, must also appear in the path after Pattern.
	Suffix string
	Role   Role
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "" && r.Method != method {
		return false
	}
	if strings.HasSuffix(r.Pattern, "/") {
		if !strings.HasPrefix(path, r.Pattern) {
			return false
		}
	} else if path != r.Pattern {
		return false
	}
	return r.Suffix == "" || strings.Contains(strings.TrimPrefix(path, r.Pattern), r.Suffix)
}

// Policy resolves the role a request requires. Rules are checked in order
// and the first match wins.
type Policy struct {
	exempt map[string]struct{}
	rules  []Rule
}

// StatementRules is the access table for the statement API.
var StatementRules = []Rule{
	{Method: http.MethodPost, Pattern: "/api/v1/calculate", Role: RoleOperator},
	{Method: http.MethodPost, Pattern: "/api/v1/statements/generate", Role: RoleOperator},
	{Method: http.MethodPost, Pattern: "/api/v1/statements/batch", Role: RoleOperator},
	{Method: http.MethodGet, Pattern: "/api/v1/statements", Role: RoleViewer},
	{Method: http.MethodGet, Pattern: "/api/v1/statements/", Suffix: "/export.", Role: RoleAdmin},
	{Method: http.MethodGet, Pattern: "/api/v1/statements/", Suffix: "/audit", Role: RoleAdmin},
	{Method: http.MethodGet, Pattern: "/api/v1/statements/", Role: RoleViewer},
	{Pattern: "/api/v1/statements/", Role: RoleAdmin},
}

// NewDefaultPolicy builds the statement API policy. Exempt paths skip auth
// entirely, as do paths under any exempt prefix.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		exempt[path] = struct{}{}
	}
	rules := make([]Rule, 0, len(exemptPrefixes)+len(StatementRules))
	for _, prefix := range exemptPrefixes {
		rules = append(rules, Rule{Pattern: prefix})
	}
	return Policy{exempt: exempt, rules: append(rules, StatementRules...)}
}

// IsExempt returns true when a request should skip auth.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.exempt[r.URL.Path]; ok {
		return true
	}
	role, ok := p.match(r)
	return ok && role == ""
}

// RequiredRole resolves the role a request needs. Unlisted API paths need
// viewer for reads and admin for writes; anything outside /api/ is open.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	if role, ok := p.match(r); ok {
		return role, role != ""
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	}
	return RoleAdmin, true
}

func (p Policy) match(r *http.Request) (Role, bool) {
	for _, rule := range p.rules {
		if rule.matches(r.Method, r.URL.Path) {
			return rule.Role, true
		}
	}
	return "", false
}
