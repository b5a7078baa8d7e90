package tlswarn

import (
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestPlaintextOnce must NOT use t.Parallel() because it resets the
// package-level sync.Once.
func TestPlaintextOnce(t *testing.T) {
	once = sync.Once{}

	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	Plaintext(logger, []string{"127.0.0.1:9000"})
	if logs.Len() != 0 {
		t.Fatalf("loopback address should not warn")
	}

	Plaintext(logger, []string{"0.0.0.0:9000"})
	Plaintext(logger, []string{"10.0.0.1:9000"})
	if logs.Len() != 1 {
		t.Fatalf("expected exactly 1 warning, got %d", logs.Len())
	}
}

func TestExposedAddresses(t *testing.T) {
	t.Parallel()

	got := exposedAddresses([]string{"127.0.0.1:1", "[::1]:2", "localhost:3", "0.0.0.0:4", "[::]:5", "example.com:6"})
	want := []string{"0.0.0.0:4", "[::]:5", "example.com:6"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("exposedAddresses = %v, want %v", got, want)
	}
}
