package health

import "context"

// CachePinger checks cache backend availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// EntityStorePinger checks entity store availability.
type EntityStorePinger interface {
	PingContext(ctx context.Context) error
}
