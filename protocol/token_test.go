package protocol

import (
	"math"
	"testing"
)

func TestIncrementToken(t *testing.T) {
	if got := IncrementToken(0); got != 1 {
		t.Errorf("IncrementToken(0) = %d, want 1", got)
	}

	if got := IncrementToken(41); got != 42 {
		t.Errorf("IncrementToken(41) = %d, want 42", got)
	}
}

func TestIncrementTokenWrapsPastZero(t *testing.T) {
	if got := IncrementToken(math.MaxUint32); got != 1 {
		t.Errorf("IncrementToken(MaxUint32) = %d, want 1", got)
	}
}
