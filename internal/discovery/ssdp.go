package discovery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/koron/go-ssdp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nupi-ai/svchost/internal/version"
)

// DefaultMaxAge is the advertisement cache lifetime in seconds.
const DefaultMaxAge = 1800

// Announcement describes one hosted endpoint to advertise.
type Announcement struct {
	Contract string
	Location string
}

// SSDPAnnouncer advertises endpoints over SSDP. Advertisers answer M-SEARCH
// probes for as long as they are open; Alive and Bye multicast the
// online/offline notifications.
type SSDPAnnouncer struct {
	instance string
	maxAge   int
	logger   *zap.Logger

	mu          sync.Mutex
	advertisers []*ssdp.Advertiser
}

// SSDPOption configures an SSDPAnnouncer.
type SSDPOption func(*SSDPAnnouncer)

// WithLogger sets the announcer logger.
func WithLogger(logger *zap.Logger) SSDPOption {
	return func(a *SSDPAnnouncer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMaxAge overrides the advertisement lifetime.
func WithMaxAge(seconds int) SSDPOption {
	return func(a *SSDPAnnouncer) {
		if seconds > 0 {
			a.maxAge = seconds
		}
	}
}

// NewSSDPAnnouncer returns an announcer with a fresh instance id.
func NewSSDPAnnouncer(opts ...SSDPOption) *SSDPAnnouncer {
	a := &SSDPAnnouncer{
		instance: uuid.NewString(),
		maxAge:   DefaultMaxAge,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("discovery")
	return a
}

// Instance returns the id shared by every USN this announcer publishes.
func (a *SSDPAnnouncer) Instance() string {
	return a.instance
}

// SearchTarget returns the SSDP search target for a contract.
func SearchTarget(contract string) string {
	return "urn:svchost:service:" + strings.ReplaceAll(contract, ":", "_")
}

// USN returns the unique service name of a contract hosted by instance.
func USN(instance, contract string) string {
	return fmt.Sprintf("uuid:%s::%s", instance, SearchTarget(contract))
}

// Announce opens one advertiser per announcement and multicasts alive
// notifications. Advertisers left from a previous call are closed first.
func (a *SSDPAnnouncer) Announce(announcements []Announcement) error {
	a.Withdraw()

	server := version.ServerToken()
	var opened []*ssdp.Advertiser
	var errs error
	for _, ann := range announcements {
		adv, err := ssdp.Advertise(SearchTarget(ann.Contract), USN(a.instance, ann.Contract), ann.Location, server, a.maxAge)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("discovery: advertise %s: %w", ann.Contract, err))
			continue
		}
		if err := adv.Alive(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("discovery: announce %s: %w", ann.Contract, err))
		}
		a.logger.Debug("advertising endpoint", zap.String("contract", ann.Contract), zap.String("location", ann.Location))
		opened = append(opened, adv)
	}

	a.mu.Lock()
	a.advertisers = opened
	a.mu.Unlock()
	return errs
}

// Withdraw multicasts bye notifications and closes every advertiser.
func (a *SSDPAnnouncer) Withdraw() error {
	a.mu.Lock()
	advertisers := a.advertisers
	a.advertisers = nil
	a.mu.Unlock()

	var errs error
	for _, adv := range advertisers {
		errs = multierr.Append(errs, adv.Bye())
		errs = multierr.Append(errs, adv.Close())
	}
	return errs
}
