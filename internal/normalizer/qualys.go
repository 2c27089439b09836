package normalizer

import (
	"github.com/JakeFAU/host-inventory/internal/inventory"
)

const ec2AssetKey = "Ec2AssetSourceSimple"

// Qualys maps a Qualys host asset record.
func Qualys(raw inventory.RawRecord) inventory.HostRecord {
	agent := object(raw, "agentInfo")
	ec2 := ec2Asset(object(raw, "sourceInfo"))

	rec := defaults(raw)
	rec.Hostname = hostname(raw, "dnsHostName")
	rec.IPAddress = str(raw, "address", "")
	rec.ExternalIP = str(agent, "connectedFrom", "")
	rec.LastVulnScan = str(object(raw, "lastVulnScan"), "$date", "")
	rec.Latitude = num(agent, "locationGeoLatitude", 0)
	rec.Longitude = longitude(agent)
	rec.Platform = str(agent, "platform", "")
	rec.OS = str(raw, "os", "")
	rec.CloudProvider = str(raw, "cloudProvider", "")
	rec.Zone = str(ec2, "availabilityZone", "")
	rec.Tags = qualysTags(raw)
	rec.MACAddress = str(ec2, "macAddress", "")
	rec.InstanceID = str(ec2, "instanceId", "")
	return rec
}

// longitude reads the agent's misspelled longitude key and falls back to the
// correctly spelled one.
func longitude(agent map[string]any) *float64 {
	if _, ok := agent["locationGeoLongtitude"]; ok {
		return num(agent, "locationGeoLongtitude", 0)
	}
	return num(agent, "locationGeoLongitude", 0)
}

// ec2Asset returns the first EC2 asset entry of sourceInfo.list.
func ec2Asset(sourceInfo map[string]any) map[string]any {
	for _, item := range list(sourceInfo, "list") {
		entry, _ := item.(map[string]any)
		if _, ok := entry[ec2AssetKey]; ok {
			return object(entry, ec2AssetKey)
		}
	}
	return nil
}

func qualysTags(raw inventory.RawRecord) []string {
	tags := []string{}
	for _, item := range list(object(raw, "tags"), "list") {
		entry, _ := item.(map[string]any)
		if name := optStr(object(entry, "TagSimple"), "name"); name != nil {
			tags = append(tags, *name)
		}
	}
	return tags
}
