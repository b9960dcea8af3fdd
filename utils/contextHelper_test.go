package utils

import (
	"context"
	"testing"
)

func TestContextValueRoundTrip(t *testing.T) {
	ctx := SetTokenInContext(context.Background(), "tok-1")
	ctx = SetUsernameInContext(ctx, "alice")
	ctx = SetVenueIdInContext(ctx, "venue-1")
	ctx = SetCorrelationIdInContext(ctx, "corr-1")

	cases := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"token", GetTokenFromContext, "tok-1"},
		{"username", GetUsernameFromContext, "alice"},
		{"venueId", GetVenueIdFromContext, "venue-1"},
		{"correlationId", GetCorrelationIdFromContext, "corr-1"},
	}
	for _, c := range cases {
		got, ok := c.get(ctx)
		if !ok || got != c.want {
			t.Errorf("%s = %q (ok=%v), want %q", c.name, got, ok, c.want)
		}
	}
}

func TestContextValueAbsent(t *testing.T) {
	if _, ok := GetUsernameFromContext(context.Background()); ok {
		t.Errorf("username reported present on an empty context")
	}
}
