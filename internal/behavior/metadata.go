package behavior

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// MetadataSuffix is appended to every published metadata path.
const MetadataSuffix = "metadata"

// MetadataError reports an endpoint address the metadata URL could not be
// derived from. The metadata behavior is removed when it occurs.
type MetadataError struct {
	Service string
	Address string
	Err     error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("behavior: %s: derive metadata url from %q: %v", e.Service, e.Address, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// IsMetadataError returns true when err is (or wraps) a MetadataError.
func IsMetadataError(err error) bool {
	var target *MetadataError
	return errors.As(err, &target)
}

// MetadataURL derives the metadata publication address for an endpoint
// address. The text after the last ':' must contain a '/', the last non-empty
// segment of the path that follows is kept and published as
// http://localhost:<port>/<segment>/metadata.
func MetadataURL(address string, port int) (*url.URL, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("metadata port %d out of range", port)
	}
	colon := strings.LastIndex(address, ":")
	if colon < 0 {
		return nil, fmt.Errorf("address has no port separator")
	}
	rest := address[colon+1:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return nil, fmt.Errorf("address has no path after the port")
	}
	path := strings.Trim(rest[slash:], "/")
	if path == "" {
		return nil, fmt.Errorf("address has an empty path")
	}
	segment := path[strings.LastIndex(path, "/")+1:]
	return url.Parse(fmt.Sprintf("http://localhost:%d/%s/%s", port, segment, MetadataSuffix))
}
