package normalizer

import (
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// CrowdStrike maps a CrowdStrike device record.
func CrowdStrike(raw inventory.RawRecord) inventory.HostRecord {
	rec := defaults(raw)
	rec.IPAddress = optStr(raw, "local_ip")
	rec.ExternalIP = str(raw, "external_ip", "")
	rec.Platform = str(raw, "platform_name", "")
	rec.OS = str(raw, "os_version", "")
	rec.ServiceProvider = str(raw, "service_provider", "")
	rec.Zone = str(raw, "zone_group", "")
	rec.Tags = crowdStrikeTags(raw)
	rec.MACAddress = str(raw, "mac_address", "")
	if rec.MACAddress != nil {
		rec.MACAddress = inventory.String(strings.ReplaceAll(*rec.MACAddress, "-", ":"))
	}
	rec.InstanceID = str(raw, "instance_id", "")
	rec.DevicePolicies = devicePolicies(raw)
	rec.LastSeen = str(raw, "last_seen", "")
	return rec
}

func crowdStrikeTags(raw inventory.RawRecord) []string {
	v, ok := raw["tags"]
	if !ok {
		return []string{}
	}
	if v == nil {
		return nil
	}
	tags, err := cast.ToStringSliceE(v)
	if err != nil {
		return []string{}
	}
	return tags
}

// devicePolicies flattens the name-keyed policy object into a list ordered
// by policy name.
func devicePolicies(raw inventory.RawRecord) []inventory.DevicePolicy {
	v, ok := raw["device_policies"]
	if !ok {
		return []inventory.DevicePolicy{}
	}
	if v == nil {
		return nil
	}
	policies, ok := v.(map[string]any)
	if !ok {
		return []inventory.DevicePolicy{}
	}

	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]inventory.DevicePolicy, 0, len(names))
	for _, name := range names {
		details, _ := policies[name].(map[string]any)
		policy := inventory.DevicePolicy{
			PolicyName: name,
			Applied:    boolean(details, "applied"),
		}
		if s := optStr(details, "policy_type"); s != nil {
			policy.PolicyType = *s
		}
		if s := optStr(details, "policy_id"); s != nil {
			policy.PolicyID = *s
		}
		out = append(out, policy)
	}
	return out
}
