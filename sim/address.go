package sim

import "fmt"

// AddressSpace fixes how global addresses split into owner and offset.
// The owning host sits in the hostBits above the offsetBits; ownership is
// a pure function of the address and never changes.
type AddressSpace struct {
	hostBits   uint
	offsetBits uint
}

// NewAddressSpace returns a layout with 2^hostBits hosts of 2^offsetBits
// words each. Panics if the layout does not fit in 63 bits.
func NewAddressSpace(hostBits, offsetBits uint) AddressSpace {
	if offsetBits == 0 || hostBits+offsetBits > 63 {
		panic(fmt.Sprintf("NewAddressSpace: invalid layout host=%d offset=%d bits", hostBits, offsetBits))
	}
	return AddressSpace{hostBits: hostBits, offsetBits: offsetBits}
}

// HostBitsFor returns the smallest host-selector width that can name n hosts.
func HostBitsFor(n int) uint {
	bits := uint(0)
	for (1 << bits) < n {
		bits++
	}
	return bits
}

// HostBits returns the width of the host selector.
func (as AddressSpace) HostBits() uint { return as.hostBits }

// OffsetBits returns the width of the in-host offset.
func (as AddressSpace) OffsetBits() uint { return as.offsetBits }

// Hosts returns the number of hosts the layout can address.
func (as AddressSpace) Hosts() int { return 1 << as.hostBits }

// Size returns the number of words each host owns.
func (as AddressSpace) Size() uint64 { return 1 << as.offsetBits }

// Compose builds the global address of offset on host.
func (as AddressSpace) Compose(host int, offset uint64) Address {
	if host < 0 || host >= as.Hosts() {
		panic(fmt.Sprintf("Compose: host %d outside %d-host space", host, as.Hosts()))
	}
	if offset >= as.Size() {
		panic(fmt.Sprintf("Compose: offset %d outside %d-word host", offset, as.Size()))
	}
	return Address(uint64(host)<<as.offsetBits | offset)
}

// Owner returns the host encoded in the high bits of addr.
func (as AddressSpace) Owner(addr Address) int {
	return int(uint64(addr) >> as.offsetBits)
}

// Offset returns the in-host offset encoded in the low bits of addr.
func (as AddressSpace) Offset(addr Address) uint64 {
	return uint64(addr) & (as.Size() - 1)
}

// Location is the resolved form of a global address.
type Location struct {
	Host   int
	Offset uint64
	Local  bool
}

// Resolver resolves addresses from the point of view of one host.
type Resolver struct {
	space AddressSpace
	self  int
	hosts int
}

// NewResolver returns the resolver for host self in a roster of hosts.
func NewResolver(space AddressSpace, self, hosts int) Resolver {
	if hosts < 1 || hosts > space.Hosts() {
		panic(fmt.Sprintf("NewResolver: %d hosts do not fit a %d-bit host selector", hosts, space.hostBits))
	}
	if self < 0 || self >= hosts {
		panic(fmt.Sprintf("NewResolver: self %d outside roster of %d", self, hosts))
	}
	return Resolver{space: space, self: self, hosts: hosts}
}

// Self returns the host this resolver belongs to.
func (r Resolver) Self() int { return r.self }

// Space returns the address layout.
func (r Resolver) Space() AddressSpace { return r.space }

// Resolve splits addr into its owner and offset. Addresses whose owner is
// not in the roster are rejected.
func (r Resolver) Resolve(addr Address) (Location, error) {
	owner := r.space.Owner(addr)
	if owner >= r.hosts {
		return Location{}, fmt.Errorf("address %#x names host %d of %d: %w", uint64(addr), owner, r.hosts, ErrAddressOutOfRange)
	}
	return Location{
		Host:   owner,
		Offset: r.space.Offset(addr),
		Local:  owner == r.self,
	}, nil
}
