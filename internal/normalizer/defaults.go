package normalizer

import (
	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// defaults returns a record with every field at its default, the source
// name read from the record and the hostname read from "hostname". Mappers
// override the fields their source provides.
func defaults(raw inventory.RawRecord) inventory.HostRecord {
	return inventory.HostRecord{
		SourceName:      str(raw, inventory.SourceNameKey, ""),
		Hostname:        hostname(raw, "hostname"),
		IPAddress:       inventory.String(""),
		ExternalIP:      inventory.String(""),
		LastVulnScan:    inventory.String(""),
		Latitude:        inventory.Float(0),
		Longitude:       inventory.Float(0),
		Platform:        inventory.String(""),
		OS:              inventory.String(""),
		CloudProvider:   inventory.String(""),
		ServiceProvider: inventory.String(""),
		Zone:            inventory.String(""),
		Tags:            []string{},
		MACAddress:      inventory.String(""),
		InstanceID:      inventory.String(""),
		DevicePolicies:  []inventory.DevicePolicy{},
		LastSeen:        inventory.String(""),
	}
}

func hostname(raw inventory.RawRecord, key string) string {
	if s := str(raw, key, ""); s != nil {
		return *s
	}
	return ""
}
