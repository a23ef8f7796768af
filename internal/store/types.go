package store

import "time"

// EntryType distinguishes a proxy route from a redirect route.
type EntryType string

const (
	EntryTypeProxy    EntryType = "PROXY"
	EntryTypeRedirect EntryType = "REDIRECT"
)

// ProxyEntry is the declarative route the reconciler consumes. It is
// created and updated by the external admin API; the core only reads it.
type ProxyEntry struct {
	ID              string
	Domains         string // ';'-joined, as stored
	Upstream        string // URL or host[:port], or redirect target for REDIRECT
	Type            EntryType
	SSL             bool
	NginxCustomCode string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Certificate is a cached TLS certificate for a domain group.
type Certificate struct {
	ID          string
	Domains     string // ';'-joined, preserves original order
	DomainsHash string // sha256 over sorted-unique lowercased domains
	CertPEM     string
	KeyPEM      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
	IsOrphaned  bool
}

// NodeStatus is the lifecycle state of a ClusterNode row.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusStale    NodeStatus = "stale"
	NodeStatusInactive NodeStatus = "inactive"
)

// ClusterNode is a heartbeat row for a process participating in the
// cluster.
type ClusterNode struct {
	InstanceID    string
	Hostname      string
	IPAddress     string
	Status        NodeStatus
	IsLeader      bool
	LastHeartbeat time.Time
	Version       string
	Metadata      map[string]string
}

// AcmeChallenge is a pending HTTP-01 challenge token any node can serve.
type AcmeChallenge struct {
	Token     string
	KeyAuth   string
	Domain    string
	ExpiresAt time.Time
}
