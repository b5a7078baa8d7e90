package grpcrt

import (
	"crypto/tls"
	"testing"

	"github.com/nupi-ai/svchost/internal/binding"
)

func TestServerOptionsFromBinding(t *testing.T) {
	t.Parallel()

	params, err := binding.DefaultParameters(binding.SimpleHTTP, "b", binding.Defaults{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	opts, err := serverOptions(params, nil)
	if err != nil {
		t.Fatalf("server options: %v", err)
	}
	// recv, send, connection timeout, keepalive
	if len(opts) != 4 {
		t.Fatalf("expected 4 options, got %d", len(opts))
	}

	params.Security = binding.SecurityTransport
	withTLS, err := serverOptions(params, &tls.Config{})
	if err != nil {
		t.Fatalf("server options with tls: %v", err)
	}
	if len(withTLS) != 5 {
		t.Fatalf("expected credentials option, got %d options", len(withTLS))
	}
}

func TestClampInt(t *testing.T) {
	t.Parallel()

	if got := clampInt(1 << 40); got != 1<<31-1 {
		t.Fatalf("clampInt overflow = %d", got)
	}
	if got := clampInt(42); got != 42 {
		t.Fatalf("clampInt(42) = %d", got)
	}
}
