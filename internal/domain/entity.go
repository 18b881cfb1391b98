package domain

// Entity identifies a searchable entity type.
type Entity string

// Registered entity types.
const (
	EntityPerson    Entity = "person"
	EntityTicket    Entity = "ticket"
	EntityWorkOrder Entity = "workorder"
)

// AllEntities returns every registered entity type in registration order.
func AllEntities() []Entity {
	return []Entity{EntityPerson, EntityTicket, EntityWorkOrder}
}

// IsValid reports whether e is a registered entity type.
func (e Entity) IsValid() bool {
	switch e {
	case EntityPerson, EntityTicket, EntityWorkOrder:
		return true
	}
	return false
}

func (e Entity) String() string { return string(e) }
