package models

// All lists every persisted model; used by sqlite auto-migration and tests.
func All() []any {
	return []any{
		&Product{},
		&InventoryTransaction{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&Shipment{},
		&ShipmentItem{},
		&ReturnRequest{},
		&ReturnItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
