package binding

import (
	"fmt"
	"strings"
)

// Kind identifies a transport binding shape.
type Kind int

const (
	KindUnknown Kind = iota
	ReliableOrderedTCP
	DuplexHTTP
	SimpleHTTP
	SecureHTTP
)

// Kinds lists every supported kind in catalog order.
var Kinds = []Kind{ReliableOrderedTCP, DuplexHTTP, SimpleHTTP, SecureHTTP}

var kindNames = map[Kind]string{
	ReliableOrderedTCP: "tcp",
	DuplexHTTP:         "duplex-http",
	SimpleHTTP:         "http",
	SecureHTTP:         "https",
}

// legacy configuration names accepted by ParseKind.
var kindAliases = map[string]Kind{
	"nettcpbinding":     ReliableOrderedTCP,
	"wsdualhttpbinding": DuplexHTTP,
	"basichttpbinding":  SimpleHTTP,
	"wshttpbinding":     SecureHTTP,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Scheme returns the URI scheme used for endpoints of this kind.
func (k Kind) Scheme() string {
	switch k {
	case ReliableOrderedTCP:
		return "net.tcp"
	case SecureHTTP:
		return "https"
	case DuplexHTTP, SimpleHTTP:
		return "http"
	default:
		return ""
	}
}

// AcceptsScheme reports whether an endpoint address with scheme can carry
// this kind. HTTP kinds accept both http and https; the security mode decides
// whether TLS is actually required.
func (k Kind) AcceptsScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	switch k {
	case ReliableOrderedTCP:
		return scheme == "net.tcp" || scheme == "tcp"
	case DuplexHTTP, SimpleHTTP, SecureHTTP:
		return scheme == "http" || scheme == "https"
	default:
		return false
	}
}

// ParseKind maps a canonical or legacy kind name to a Kind.
func ParseKind(raw string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for k, name := range kindNames {
		if name == key {
			return k, nil
		}
	}
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return KindUnknown, &ConfigurationError{Op: "parse kind", Name: raw, Err: ErrUnknownKind}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &ConfigurationError{Op: "marshal kind", Name: k.String(), Err: ErrUnknownKind}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
