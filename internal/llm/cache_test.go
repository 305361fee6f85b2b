package llm

import "testing"

func TestResponseCacheRoundTrip(t *testing.T) {
	c, err := NewResponseCache(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := []Message{{Role: "user", Content: "hello"}}
	key, err := Fingerprint("gpt-4o", messages, nil)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(key, Response{Text: "hi there"})
	got, ok := c.Get(key)
	if !ok || got.Text != "hi there" {
		t.Fatalf("expected cached response, got %+v ok=%v", got, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
}

func TestFingerprintDiffersOnModel(t *testing.T) {
	messages := []Message{{Role: "user", Content: "hello"}}
	k1, _ := Fingerprint("gpt-4o", messages, nil)
	k2, _ := Fingerprint("claude-3-5-sonnet", messages, nil)
	if k1 == k2 {
		t.Fatal("expected distinct fingerprints for distinct models")
	}
}
