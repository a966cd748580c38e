package sha256

import "testing"

// TestHashURLDeterministic ensures repeated hashing yields the same digest.
func TestHashURLDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.HashURL("hello world")
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.HashURL("hello world"); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestHashURLDistinguishesEpisodes(t *testing.T) {
	t.Parallel()

	h := New()
	a := h.HashURL("https://site/releases/item/slug-42/ep-7")
	b := h.HashURL("https://site/releases/item/slug-42/ep-8")
	if a == b {
		t.Fatalf("expected distinct hashes, both were %s", a)
	}
}
