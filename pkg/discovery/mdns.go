package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSAdvertiser advertises a single chanwire server instance.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
	info   ServerInfo
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{config: config}
}

// Advertise registers info, replacing any earlier registration.
func (a *MDNSAdvertiser) Advertise(info ServerInfo) error {
	if err := ValidateInstance(info.Instance); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeServerTXT(&info)),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", info.Instance, err)
	}

	a.server = server
	a.info = info
	return nil
}

// Update replaces the TXT record of the running registration.
func (a *MDNSAdvertiser) Update(info ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotFound
	}
	if info.Instance != a.info.Instance || info.Port != a.info.Port {
		return fmt.Errorf("%w: instance and port cannot change", ErrInvalidInstance)
	}
	a.server.SetText(TXTRecordsToStrings(EncodeServerTXT(&info)))
	a.info = info
	return nil
}

// Advertising returns true while a registration is active.
func (a *MDNSAdvertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Stop withdraws the registration.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// MDNSBrowser finds chanwire servers.
type MDNSBrowser struct {
	config BrowserConfig
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse streams servers until ctx is done. Answers are aggregated by
// instance name; each instance is emitted once, when first seen.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)

		agg := newAggregator()
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				svc := agg.add(fromZeroconf(e))
				if svc == nil {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case e, ok := <-removed:
				if !ok {
					continue
				}
				agg.remove(fromZeroconf(e))

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// FindFirst returns the first server found, or ErrNotFound once ctx is
// done without an answer.
func (b *MDNSBrowser) FindFirst(ctx context.Context) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	svc, ok := <-results
	if !ok {
		return nil, ErrNotFound
	}
	return svc, nil
}

// interfaces returns the named interface, or nil for all interfaces.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// entry is the part of a zeroconf answer the browser looks at.
type entry struct {
	instance string
	host     string
	port     int
	text     []string
	addrs    []string
}

func fromZeroconf(e *zeroconf.ServiceEntry) entry {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return entry{
		instance: e.Instance,
		host:     e.HostName,
		port:     e.Port,
		text:     e.Text,
		addrs:    addrs,
	}
}

// toService converts an answer, returning nil if its TXT record is not
// a chanwire record.
func (e entry) toService() *Service {
	svc := &Service{
		Instance:  e.instance,
		Host:      e.host,
		Port:      uint16(e.port),
		Addresses: e.addrs,
	}
	if err := DecodeServerTXT(StringsToTXTRecords(e.text), svc); err != nil {
		return nil
	}
	return svc
}

// aggregator merges answers for the same instance from several
// interfaces.
type aggregator struct {
	services map[string]*Service
}

func newAggregator() *aggregator {
	return &aggregator{services: make(map[string]*Service)}
}

// add records e and returns the service if the instance is new.
func (g *aggregator) add(e entry) *Service {
	if existing, ok := g.services[e.instance]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, e.addrs)
		return nil
	}
	svc := e.toService()
	if svc == nil {
		return nil
	}
	g.services[e.instance] = svc

	emitted := *svc
	emitted.Addresses = slices.Clone(svc.Addresses)
	return &emitted
}

// remove drops the addresses of e, forgetting the instance when none
// remain.
func (g *aggregator) remove(e entry) {
	existing, ok := g.services[e.instance]
	if !ok {
		return
	}
	existing.Addresses = removeAddresses(existing.Addresses, e.addrs)
	if len(existing.Addresses) == 0 {
		delete(g.services, e.instance)
	}
}

func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, addr := range gone {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
