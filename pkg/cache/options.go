package cache

import "time"

// Option configures a single Set or GetOrSet call.
type Option func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	resource string
	tags     []string
}

// WithTTL sets an explicit lifetime, overriding the resource policy.
func WithTTL(ttl time.Duration) Option {
	return func(o *setOptions) { o.ttl = ttl }
}

// WithResource picks the lifetime from the TTL policy table.
func WithResource(resource string) Option {
	return func(o *setOptions) { o.resource = resource }
}

// WithTags adds the key to the given invalidation tags.
func WithTags(tags ...string) Option {
	return func(o *setOptions) { o.tags = append(o.tags, tags...) }
}

func (s *Store) resolve(opts []Option) setOptions {
	o := setOptions{resource: ResourceEntity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = s.ttl.For(o.resource)
	}
	return o
}
