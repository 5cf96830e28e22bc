package access

import "strings"

// Decision is the terminal outcome of an authorization check.
type Decision uint8

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Unauthorized rejects a request without a usable token (HTTP 401).
	Unauthorized
	// Forbidden rejects an authenticated request whose role does not match (HTTP 403).
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Rule requires one of Roles for every path matching Prefix.
type Rule struct {
	Prefix string
	Roles  []string
}

// Policy is an ordered routing table. Public paths skip token inspection;
// the first matching Rule decides the role requirement; unmatched paths only
// need a valid token.
type Policy struct {
	PublicPaths []string
	Rules       []Rule
}

// DefaultPublicPaths lists the routes reachable without a token.
func DefaultPublicPaths() []string {
	return []string{
		"/api/auth/user/login",
		"/api/auth/user/register",
		"/api/auth/admin/login",
		"/api/auth/wechat/**",
		"/api/public/**",
		"/api/home/recommend/default",
		"/api/events",
		"/api/events/search/**",
		"/api/categories",
		"/api/categories/search/**",
		"/api/cities",
		"/api/cities/search/**",
		"/api/sessions",
		"/api/sessions/upcoming",
		"/api/ticket-tiers",
		"/api/ticket-tiers/price-range",
		"/api/captcha/**",
		"/error",
	}
}

// DefaultRules returns the admin and user scoped prefixes.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/api/admin/", Roles: []string{RoleAdmin}},
		{Prefix: "/api/user/", Roles: []string{RoleUser, RoleAdmin}},
	}
}

// DefaultPolicy combines DefaultPublicPaths and DefaultRules.
func DefaultPolicy() Policy {
	return Policy{PublicPaths: DefaultPublicPaths(), Rules: DefaultRules()}
}

// IsPublic reports whether path matches a public pattern.
//
// A pattern ending in "/**" matches its base path and everything below it.
// A pattern ending in "/" matches by prefix. Anything else must match exactly.
func (p Policy) IsPublic(path string) bool {
	for _, pattern := range p.PublicPaths {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// Check applies the role rules to an authenticated request.
func (p Policy) Check(path, role string) Decision {
	for _, rule := range p.Rules {
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		for _, allowed := range rule.Roles {
			if role == allowed {
				return Allow
			}
		}
		return Forbidden
	}
	return Allow
}

// Clone returns a deep copy so callers can keep mutating their own slices.
func (p Policy) Clone() Policy {
	out := Policy{PublicPaths: append([]string(nil), p.PublicPaths...)}
	if p.Rules != nil {
		out.Rules = make([]Rule, len(p.Rules))
		for i, r := range p.Rules {
			out.Rules[i] = Rule{Prefix: r.Prefix, Roles: append([]string(nil), r.Roles...)}
		}
	}
	return out
}

func matchPattern(pattern, path string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		base := strings.TrimSuffix(pattern, "/**")
		return path == base || strings.HasPrefix(path, base+"/")
	case strings.HasSuffix(pattern, "/"):
		return strings.HasPrefix(path, pattern)
	default:
		return path == pattern
	}
}
