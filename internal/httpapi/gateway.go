package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"certiscan.io/internal/auth"
	"certiscan.io/internal/ratelimit"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// routeClass binds a path-prefix pattern to its access policy and rate rule.
// The table is scanned in order; the first match wins, unmatched paths are
// public with no route-level rule.
type routeClass struct {
	pattern string
	public  bool
	roles   []auth.Role // empty means any authenticated role
	rule    ratelimit.Rule
}

var (
	ruleSignIn = ratelimit.Rule{Name: "signin", Window: 15 * time.Minute, Max: 5}
	ruleAPI    = ratelimit.Rule{Name: "api", Window: time.Minute, Max: 100}
	ruleUpload = ratelimit.Rule{Name: "upload", Window: time.Minute, Max: 20}
	ruleMint   = ratelimit.Rule{Name: "qr_mint", Window: time.Minute, Max: 50}
)

var routeTable = []routeClass{
	{pattern: "/healthz", public: true},
	{pattern: "/readyz", public: true},
	{pattern: "/metrics", public: true},
	{pattern: "/v1/info", public: true},
	{pattern: "/v1/auth/", public: true, rule: ruleSignIn},
	{pattern: "/product/", public: true, rule: ruleAPI},
	{pattern: "/v1/admin/", roles: []auth.Role{auth.RoleAdmin}, rule: ruleAPI},
	{pattern: "/v1/batches", rule: ruleUpload},
	{pattern: "/v1/qrcodes", rule: ruleMint},
	{pattern: "/v1/", rule: ruleAPI},
}

// RoutePermissions lists the permissions the route table relies on; validated
// against the catalog at startup.
var RoutePermissions = []auth.Permission{
	auth.PermProductsCreate,
	auth.PermProductsRead,
	auth.PermProductsUpdate,
	auth.PermFactoriesCreate,
	auth.PermFactoriesRead,
	auth.PermFactoriesUpdate,
	auth.PermUsersCreate,
	auth.PermUsersRead,
	auth.PermUsersUpdate,
}

func classify(path string) routeClass {
	for _, rc := range routeTable {
		if strings.HasSuffix(rc.pattern, "/") {
			if strings.HasPrefix(path, rc.pattern) || path == strings.TrimSuffix(rc.pattern, "/") {
				return rc
			}
		} else if path == rc.pattern || strings.HasPrefix(path, rc.pattern+"/") {
			return rc
		}
	}
	return routeClass{public: true}
}

// gateway resolves the session, enforces the route class and applies its
// sliding-window rate rule. Invalid tokens and inactive principals are
// indistinguishable to the client.
func (a *API) gateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		rc := classify(r.URL.Path)

		if a.limiter != nil && rc.rule.Max > 0 {
			// Windows are keyed per (route pattern, client), so routes sharing
			// a rule do not drain one another's budget.
			d := a.limiter.Allow(r.Context(), rc.pattern+":"+clientIP(r), rc.rule)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds()+0.5)))
				writeError(w, r, http.StatusTooManyRequests, "Too many requests")
				return
			}
		}

		if rc.public {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		principal := claims.Principal()
		if !principal.Active {
			writeError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		if len(rc.roles) > 0 && !roleAllowed(principal.Role, rc.roles) {
			writeError(w, r, http.StatusForbidden, "Insufficient permissions")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func roleAllowed(role auth.Role, allowed []auth.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// principalFrom pulls the authenticated principal for handlers behind the
// gateway; absence means a routing bug, answered as 401.
func principalFrom(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
		return auth.Principal{}, false
	}
	return principal, true
}
