package cache

import "testing"

func TestKeyStringRoundTrip(t *testing.T) {
	k := NewKey("seller", "orders", "a/b c")
	s := k.String()
	if s != "seller/orders/a%2Fb%20c" {
		t.Fatalf("String = %q", s)
	}
	back, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if !back.Equal(k) {
		t.Fatalf("ParseKey = %v, want %v", back, k)
	}
}

func TestKeyHasPrefix(t *testing.T) {
	k := NewKey("seller", "orders", "live")
	if !k.HasPrefix(NewKey("seller", "orders")) {
		t.Fatalf("expected prefix match")
	}
	if !k.HasPrefix(NewKey()) {
		t.Fatalf("empty prefix should match")
	}
	if k.HasPrefix(NewKey("seller", "dashboard")) {
		t.Fatalf("unexpected prefix match")
	}
	if k.HasPrefix(NewKey("seller", "orders", "live", "x")) {
		t.Fatalf("longer prefix should not match")
	}
}

func TestNewKeyCopies(t *testing.T) {
	segs := []string{"a", "b"}
	k := NewKey(segs...)
	segs[0] = "z"
	if k[0] != "a" {
		t.Fatalf("NewKey aliases its input")
	}
}

func TestKeyEmptySegmentsAreDistinct(t *testing.T) {
	keys := []Key{
		NewKey(),
		NewKey(""),
		NewKey("", ""),
		NewKey("%"),
		NewKey("a", ""),
		NewKey("a"),
	}
	seen := make(map[string]Key)
	for _, k := range keys {
		s := k.String()
		if prev, ok := seen[s]; ok {
			t.Fatalf("%#v and %#v both render as %q", prev, k, s)
		}
		seen[s] = k

		back, err := ParseKey(s)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", s, err)
		}
		if !back.Equal(k) {
			t.Fatalf("ParseKey(%q) = %#v, want %#v", s, back, k)
		}
	}
}
