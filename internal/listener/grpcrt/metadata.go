package grpcrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/listener"
	"github.com/nupi-ai/svchost/internal/portshare"
)

// Document is the JSON body served at the metadata address.
type Document struct {
	Service   string             `json:"service"`
	Endpoints []DocumentEndpoint `json:"endpoints"`
}

// DocumentEndpoint describes one hosted endpoint.
type DocumentEndpoint struct {
	Address  string             `json:"address"`
	Contract string             `json:"contract"`
	Methods  []string           `json:"methods,omitempty"`
	Binding  binding.Parameters `json:"binding"`
}

func buildDocument(impl contract.Implementation, endpoints []*listener.Endpoint) Document {
	doc := Document{Service: impl.Name}
	for _, ep := range endpoints {
		entry := DocumentEndpoint{
			Address:  ep.Address.String(),
			Contract: ep.Contract,
			Binding:  ep.Binding,
		}
		if c, ok := impl.Lookup(ep.Contract); ok && c.Desc != nil {
			for _, m := range c.Desc.Methods {
				entry.Methods = append(entry.Methods, m.MethodName)
			}
			for _, s := range c.Desc.Streams {
				entry.Methods = append(entry.Methods, s.StreamName)
			}
		}
		doc.Endpoints = append(doc.Endpoints, entry)
	}
	return doc
}

// metadataServer publishes a Document over HTTP GET.
type metadataServer struct {
	server   *http.Server
	listener net.Listener
}

func startMetadata(ctx context.Context, u *url.URL, doc Document, onError func(error)) (*metadataServer, error) {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("grpcrt: encode metadata: %w", err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	lis, err := portshare.Listen(ctx, u.Host)
	if err != nil {
		return nil, fmt.Errorf("grpcrt: listen metadata %s: %w", u.Host, err)
	}

	m := &metadataServer{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener: lis,
	}
	go func() {
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	return m, nil
}

// Addr returns the bound address.
func (m *metadataServer) Addr() net.Addr {
	return m.listener.Addr()
}

func (m *metadataServer) stop(timeout time.Duration, graceful bool) error {
	if !graceful {
		return m.server.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return m.server.Close()
		}
		return fmt.Errorf("grpcrt: stop metadata: %w", err)
	}
	return nil
}
