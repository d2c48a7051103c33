package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestInMemoryCache_SetGet(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "geo:london", []byte(`{"latitude":51.5}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "geo:london")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, []byte(`{"latitude":51.5}`)) {
		t.Errorf("Get() = %s, want original payload", got)
	}
}

func TestInMemoryCache_Miss(t *testing.T) {
	c := NewInMemoryCache()

	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for missing key")
	}
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
}

func TestInMemoryCache_Overwrite(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("old"), time.Minute)
	_ = c.Set(ctx, "k", []byte("new"), time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Errorf("Get() = %s, %v; want new, true", got, ok)
	}
}

func TestParseAddrs(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{in: "localhost:11211", want: 1},
		{in: "a:11211, b:11211", want: 2},
		{in: " , ", want: 0},
		{in: "", want: 0},
	}
	for _, tc := range tests {
		if got := parseAddrs(tc.in); len(got) != tc.want {
			t.Errorf("parseAddrs(%q) = %v, want %d addrs", tc.in, got, tc.want)
		}
	}
}
