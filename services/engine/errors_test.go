package engine

import (
	"fmt"
	"testing"
)

func TestErrorKindsSurviveWrapping(t *testing.T) {
	base := dataErr("BTCUSDT", 7, "missing close")
	wrapped := fmt.Errorf("fold 3: %w", base)

	if !IsDataError(base) {
		t.Fatal("bare data error not recognized")
	}
	if !IsDataError(wrapped) {
		t.Fatal("data error lost through one level of wrapping")
	}
	if IsKind(wrapped, KindInvariant) {
		t.Fatal("wrapped data error reported as invariant")
	}
	if IsDataError(invariantErrf("BTCUSDT", 7, "double close")) {
		t.Fatal("invariant error reported as data error")
	}
	if IsDataError(fmt.Errorf("plain error")) {
		t.Fatal("unrelated error reported as data error")
	}
}
