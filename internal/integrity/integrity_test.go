package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/ashita-ai/hyoka/internal/model"
)

func summary(from string, explanations ...string) model.ParticipantSummary {
	to := "ETO-01"
	ts := time.Date(2026, 10, 16, 18, 30, 0, 0, time.UTC)
	return model.ParticipantSummary{
		From:         from,
		To:           &to,
		Timestamp:    &ts,
		Location:     &model.LatLon{Lat: 38.44, Lon: -122.71},
		Explanations: explanations,
		MessageCount: 1,
	}
}

func TestSummaryHash_Deterministic(t *testing.T) {
	h1 := SummaryHash(summary("KN6ABC", "Subject: wrong"))
	h2 := SummaryHash(summary("KN6ABC", "Subject: wrong"))
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if !strings.HasPrefix(h1, hashPrefix) || len(h1) != len(hashPrefix)+64 {
		t.Fatalf("unexpected hash shape %q", h1)
	}
}

func TestSummaryHash_DifferentInputs(t *testing.T) {
	a := SummaryHash(summary("KN6ABC", "Subject: wrong"))
	b := SummaryHash(summary("KN6ABC", "Subject: missing value"))
	if a == b {
		t.Fatal("different explanations should produce different hashes")
	}
	// Length prefixing keeps field boundaries: "ab"+"c" != "a"+"bc".
	c := SummaryHash(summary("KN6ABC", "ab", "c"))
	d := SummaryHash(summary("KN6ABC", "a", "bc"))
	if c == d {
		t.Fatal("explanation boundaries must be part of the hash")
	}
}

func TestSummaryHash_IgnoresSyntheticLocation(t *testing.T) {
	a := summary("KN6ABC")
	a.Location = &model.LatLon{Lat: 0.01, Lon: 0.02}
	a.LocationSynthetic = true
	b := summary("KN6ABC")
	b.Location = &model.LatLon{Lat: -0.03, Lon: 0.04}
	b.LocationSynthetic = true
	if SummaryHash(a) != SummaryHash(b) {
		t.Fatal("synthetic coordinates must not change the hash")
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := summary("A")
	b := summary("B", "To: missing value")
	c := summary("C")
	f1 := Fingerprint([]model.ParticipantSummary{a, b, c})
	f2 := Fingerprint([]model.ParticipantSummary{c, a, b})
	if f1 != f2 {
		t.Fatalf("fingerprint depends on order: %q != %q", f1, f2)
	}
	if Fingerprint(nil) != "" {
		t.Fatal("empty run should have empty fingerprint")
	}
}

func TestBuildMerkleRoot(t *testing.T) {
	if got := BuildMerkleRoot([]string{"x"}); got != "x" {
		t.Fatalf("single leaf root = %q, want x", got)
	}
	three := BuildMerkleRoot([]string{"a", "b", "c"})
	want := hashPair(hashPair("a", "b"), hashPair("c", "c"))
	if three != want {
		t.Fatalf("odd level root = %q, want %q", three, want)
	}
}
