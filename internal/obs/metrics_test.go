package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/product/CS-123456":          "/product/:code",
		"/v1/products/abc":            "/v1/products/:id",
		"/v1/products/abc/status":     "/v1/products/:id/status",
		"/v1/factories/abc":           "/v1/factories/:id",
		"/v1/products":                "/v1/products",
		"/v1/products?limit=10":       "/v1/products",
		"/v1/batches/01ABC":           "/v1/batches/:id",
		"/v1/auth/sign-in":            "/v1/auth/sign-in",
		"/v1/users/01XYZ/assignments": "/v1/users/:id/assignments",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
