package inventory

// Merge folds incoming into stored and returns a new record. Every field of
// incoming that is not absent wins; absent fields keep the stored value. The
// hostname always comes from stored because it is the lookup key.
func Merge(stored, incoming HostRecord) HostRecord {
	return HostRecord{
		SourceName:      pick(incoming.SourceName, stored.SourceName),
		Hostname:        stored.Hostname,
		IPAddress:       pick(incoming.IPAddress, stored.IPAddress),
		ExternalIP:      pick(incoming.ExternalIP, stored.ExternalIP),
		LastVulnScan:    pick(incoming.LastVulnScan, stored.LastVulnScan),
		Latitude:        pick(incoming.Latitude, stored.Latitude),
		Longitude:       pick(incoming.Longitude, stored.Longitude),
		Platform:        pick(incoming.Platform, stored.Platform),
		OS:              pick(incoming.OS, stored.OS),
		CloudProvider:   pick(incoming.CloudProvider, stored.CloudProvider),
		ServiceProvider: pick(incoming.ServiceProvider, stored.ServiceProvider),
		Zone:            pick(incoming.Zone, stored.Zone),
		Tags:            pickSlice(incoming.Tags, stored.Tags),
		MACAddress:      pick(incoming.MACAddress, stored.MACAddress),
		InstanceID:      pick(incoming.InstanceID, stored.InstanceID),
		DevicePolicies:  pickSlice(incoming.DevicePolicies, stored.DevicePolicies),
		LastSeen:        pick(incoming.LastSeen, stored.LastSeen),
	}
}

func pick[T any](incoming, stored *T) *T {
	if incoming != nil {
		v := *incoming
		return &v
	}
	if stored != nil {
		v := *stored
		return &v
	}
	return nil
}

func pickSlice[T any](incoming, stored []T) []T {
	src := stored
	if incoming != nil {
		src = incoming
	}
	if src == nil {
		return nil
	}
	out := make([]T, len(src))
	copy(out, src)
	return out
}

// Clone returns a copy of r that shares no memory with it.
func (r HostRecord) Clone() HostRecord {
	return Merge(r, HostRecord{})
}
