package domain

import "time"

// ConsortiumEntry is the only cross-tenant state in the system: a
// digest-keyed, tenant-agnostic record of how many distinct tenants have
// observed an identifier and how many confirmed-fraud transactions have
// touched it. Rules only ever see the counts, never the originating
// tenant ids.
type ConsortiumEntry struct {
	Digest            string
	TenantsTouched    int
	FraudConfirmations int64
	FirstSeen         time.Time
	LastSeen          time.Time
}
