package inventory

import "net/http"

// SourceNameKey is the field the fetcher injects into every raw record.
const SourceNameKey = "source_name"

// DefaultPageSize is the initial page size for every configured source.
const DefaultPageSize = 2

// Source describes one upstream API and its pagination cursor.
type Source struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

// Advance moves the cursor forward by one page.
func (s Source) Advance() Source {
	s.Skip += s.Limit
	return s
}

// PageRequest is one paginated request against a source.
type PageRequest struct {
	Source  string
	URL     string
	Skip    int
	Limit   int
	Headers http.Header
}

// RawRecord is an opaque source document as returned by a source API.
type RawRecord map[string]any

// SourceName returns the injected source tag, or "" when it is missing.
func (r RawRecord) SourceName() string {
	name, _ := r[SourceNameKey].(string)
	return name
}

// Tag stamps the record with the name of the source that produced it.
func (r RawRecord) Tag(source string) RawRecord {
	r[SourceNameKey] = source
	return r
}

// DevicePolicy is a policy applied to a host by its management agent.
type DevicePolicy struct {
	PolicyName string `json:"policy_name"`
	PolicyType string `json:"policy_type"`
	PolicyID   string `json:"policy_id"`
	Applied    bool   `json:"applied"`
}

// HostRecord is the canonical host document every source is normalized into.
//
// Pointer and slice fields use nil as the absent value. A non-nil pointer to
// a zero value is a present value and takes part in merges like any other.
type HostRecord struct {
	SourceName      *string        `json:"source_name"`
	Hostname        string         `json:"hostname"`
	IPAddress       *string        `json:"ip_address"`
	ExternalIP      *string        `json:"external_ip"`
	LastVulnScan    *string        `json:"last_vuln_scan"`
	Latitude        *float64       `json:"latitude"`
	Longitude       *float64       `json:"longitude"`
	Platform        *string        `json:"platform"`
	OS              *string        `json:"os"`
	CloudProvider   *string        `json:"cloud_provider"`
	ServiceProvider *string        `json:"service_provider"`
	Zone            *string        `json:"zone"`
	Tags            []string       `json:"tags"`
	MACAddress      *string        `json:"mac_address"`
	InstanceID      *string        `json:"instance_id"`
	DevicePolicies  []DevicePolicy `json:"device_policies"`
	LastSeen        *string        `json:"last_seen"`
}

// StoredHost is a host document together with its store-assigned identity.
type StoredHost struct {
	ID     string
	Record HostRecord
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
