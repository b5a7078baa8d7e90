// Package binding holds named transport parameter sets and resolves the
// parameters an endpoint should be provisioned with.
package binding

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// DefaultTimeout applies to every timeout of a synthesised binding.
	DefaultTimeout = 5 * time.Minute
	// Unlimited is the ceiling used for synthesised size and quota limits.
	Unlimited int64 = math.MaxInt32
)

// SecurityMode selects how messages are protected on the wire.
type SecurityMode int

const (
	SecurityNone SecurityMode = iota
	SecurityTransport
	SecurityMessage
	SecurityTransportWithMessageCredential
)

var securityNames = map[SecurityMode]string{
	SecurityNone:                           "none",
	SecurityTransport:                      "transport",
	SecurityMessage:                        "message",
	SecurityTransportWithMessageCredential: "transport-with-message-credential",
}

func (m SecurityMode) String() string {
	if name, ok := securityNames[m]; ok {
		return name
	}
	return fmt.Sprintf("security(%d)", int(m))
}

// ParseSecurityMode maps a textual mode to a SecurityMode. Empty input means none.
func ParseSecurityMode(raw string) (SecurityMode, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return SecurityNone, nil
	}
	for mode, name := range securityNames {
		if name == key || strings.ReplaceAll(name, "-", "") == key {
			return mode, nil
		}
	}
	return SecurityNone, fmt.Errorf("binding: unknown security mode %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (m SecurityMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SecurityMode) UnmarshalText(text []byte) error {
	parsed, err := ParseSecurityMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ReaderQuotas bound the structure of decoded messages.
type ReaderQuotas struct {
	MaxArrayLength         int64 `json:"max_array_length" toml:"max_array_length"`
	MaxStringContentLength int64 `json:"max_string_content_length" toml:"max_string_content_length"`
	MaxDepth               int64 `json:"max_depth" toml:"max_depth"`
	MaxBytesPerRead        int64 `json:"max_bytes_per_read" toml:"max_bytes_per_read"`
	MaxNameTableCharCount  int64 `json:"max_name_table_char_count" toml:"max_name_table_char_count"`
}

// Parameters is one named binding configuration.
type Parameters struct {
	Name string `json:"name" toml:"-"`
	Kind Kind   `json:"kind" toml:"-"`

	OpenTimeout    time.Duration `json:"open_timeout" toml:"open_timeout"`
	CloseTimeout   time.Duration `json:"close_timeout" toml:"close_timeout"`
	SendTimeout    time.Duration `json:"send_timeout" toml:"send_timeout"`
	ReceiveTimeout time.Duration `json:"receive_timeout" toml:"receive_timeout"`

	MaxReceivedMessageSize int64 `json:"max_received_message_size" toml:"max_received_message_size"`
	// MaxBufferSize only applies to tcp and plain http bindings.
	MaxBufferSize     int64 `json:"max_buffer_size,omitempty" toml:"max_buffer_size"`
	MaxBufferPoolSize int64 `json:"max_buffer_pool_size" toml:"max_buffer_pool_size"`

	Security     SecurityMode `json:"security" toml:"security"`
	ReaderQuotas ReaderQuotas `json:"reader_quotas" toml:"reader_quotas"`

	PortSharingEnabled bool   `json:"port_sharing_enabled,omitempty" toml:"port_sharing_enabled"`
	ClientBaseAddress  string `json:"client_base_address,omitempty" toml:"client_base_address"`
	UseDefaultWebProxy bool   `json:"use_default_web_proxy,omitempty" toml:"use_default_web_proxy"`
}

// Defaults carries model-wide values copied into synthesised bindings.
type Defaults struct {
	ClientBaseAddress  string
	PortSharingEnabled bool
}

// DefaultParameters returns the parameter set synthesised for an unknown
// binding name of the given kind.
func DefaultParameters(kind Kind, name string, defaults Defaults) (Parameters, error) {
	if !kind.Valid() {
		return Parameters{}, &ConfigurationError{Op: "synthesise", Kind: kind, Name: name, Err: ErrUnknownKind}
	}

	p := Parameters{
		Name:                   name,
		Kind:                   kind,
		OpenTimeout:            DefaultTimeout,
		CloseTimeout:           DefaultTimeout,
		SendTimeout:            DefaultTimeout,
		ReceiveTimeout:         DefaultTimeout,
		MaxReceivedMessageSize: Unlimited,
		MaxBufferPoolSize:      Unlimited,
		Security:               SecurityNone,
		ReaderQuotas: ReaderQuotas{
			MaxArrayLength:         Unlimited,
			MaxStringContentLength: Unlimited,
			MaxDepth:               Unlimited,
			MaxBytesPerRead:        Unlimited,
			MaxNameTableCharCount:  Unlimited,
		},
	}

	switch kind {
	case ReliableOrderedTCP:
		p.MaxBufferSize = Unlimited
		p.PortSharingEnabled = defaults.PortSharingEnabled
	case SimpleHTTP:
		p.MaxBufferSize = Unlimited
	case DuplexHTTP:
		p.ClientBaseAddress = defaults.ClientBaseAddress
	}
	return p, nil
}

// Validate checks that the parameter set can be handed to a runtime.
func (p Parameters) Validate() error {
	if !p.Kind.Valid() {
		return &ConfigurationError{Op: "validate", Kind: p.Kind, Name: p.Name, Err: ErrUnknownKind}
	}
	for label, d := range map[string]time.Duration{
		"open_timeout":    p.OpenTimeout,
		"close_timeout":   p.CloseTimeout,
		"send_timeout":    p.SendTimeout,
		"receive_timeout": p.ReceiveTimeout,
	} {
		if d < 0 {
			return &ConfigurationError{Op: "validate", Kind: p.Kind, Name: p.Name, Err: fmt.Errorf("%s must not be negative", label)}
		}
	}
	if p.MaxReceivedMessageSize < 0 || p.MaxBufferSize < 0 || p.MaxBufferPoolSize < 0 {
		return &ConfigurationError{Op: "validate", Kind: p.Kind, Name: p.Name, Err: fmt.Errorf("size limits must not be negative")}
	}
	return nil
}
