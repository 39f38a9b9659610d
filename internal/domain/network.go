package domain

import "time"

// NetworkRecord is the Registry's authoritative view of one network.
type NetworkRecord struct {
	NetworkID  string
	PlatformID PlatformID
	CIDR       string
	Gateway    string
	VLANTag    int // 0 means untagged
	Mode       NetworkMode
	OwnerLab   string
	CreatedAt  time.Time
	DeletedAt  time.Time
}

// NetworkSpec is the request-scoped input to EnsureNetwork.
type NetworkSpec struct {
	Name    string
	CIDR    string
	Gateway string
	VLANTag int
	Mode    NetworkMode
	DNS     []string
}
