package cache

import "time"

// Logical resource names of the TTL policy table.
const (
	ResourceList   = "list"
	ResourceSearch = "search"
	ResourceEntity = "entity"
	ResourceDetail = "detail"
	ResourceStatic = "static"
)

// TTLPolicy maps a logical resource name to its cache lifetime.
type TTLPolicy map[string]time.Duration

// DefaultTTLPolicy returns the built-in table: short-lived lists, medium
// entities, long-lived static configuration.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		ResourceList:   60 * time.Second,
		ResourceSearch: 60 * time.Second,
		ResourceEntity: 600 * time.Second,
		ResourceDetail: 900 * time.Second,
		ResourceStatic: 3600 * time.Second,
	}
}

// NewTTLPolicy returns the default table with overrides applied.
func NewTTLPolicy(overrides map[string]time.Duration) TTLPolicy {
	p := DefaultTTLPolicy()
	for name, d := range overrides {
		if d > 0 {
			p[name] = d
		}
	}
	return p
}

// For returns the TTL for resource. Unknown resources get the entity TTL.
func (p TTLPolicy) For(resource string) time.Duration {
	if d, ok := p[resource]; ok {
		return d
	}
	if d, ok := p[ResourceEntity]; ok {
		return d
	}
	return 600 * time.Second
}

// Max returns the longest TTL in the table.
func (p TTLPolicy) Max() time.Duration {
	var max time.Duration
	for _, d := range p {
		if d > max {
			max = d
		}
	}
	return max
}
