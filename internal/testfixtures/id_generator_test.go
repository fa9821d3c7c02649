package testfixtures

import "testing"

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("activity")

	first := gen.Next()
	second := gen.NextFunc()()

	if first != "activity-1" || second != "activity-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if got := NewIDGenerator("").Next(); got != "id-1" {
		t.Fatalf("expected default prefix, got %q", got)
	}
}
