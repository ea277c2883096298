package seahash

import "testing"

func TestSum64Deterministic(t *testing.T) {
	a := Sum64([]byte("hello world"))
	b := Sum64([]byte("hello world"))
	if a != b {
		t.Fatalf("expected deterministic hash, got %d vs %d", a, b)
	}
}

func TestSum64DiffersOnContent(t *testing.T) {
	a := Sum64([]byte("hello world"))
	b := Sum64([]byte("hello world!"))
	if a == b {
		t.Fatalf("expected different hashes for different content")
	}
}

func TestSum64Empty(t *testing.T) {
	if Sum64(nil) != Sum64([]byte{}) {
		t.Fatalf("expected nil and empty slice to hash the same")
	}
}

func TestWriterMatchesSum64(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, twice over for good measure")
	want := Sum64(data)

	w := NewWriter()
	// Write in uneven chunks to exercise the tail-buffering path.
	chunks := [][]byte{data[:3], data[3:17], data[17:]}
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := w.Sum64(); got != want {
		t.Fatalf("writer sum = %d, want %d", got, want)
	}
}
