package enums

import "fmt"

// InventoryTransactionType classifies a stock ledger entry.
type InventoryTransactionType string

const (
	InventoryTxReserve InventoryTransactionType = "RESERVE"
	InventoryTxRelease InventoryTransactionType = "RELEASE"
	InventoryTxSale    InventoryTransactionType = "SALE"
	InventoryTxReturn  InventoryTransactionType = "RETURN"
)

var validInventoryTransactionTypes = []InventoryTransactionType{
	InventoryTxReserve,
	InventoryTxRelease,
	InventoryTxSale,
	InventoryTxReturn,
}

func (t InventoryTransactionType) String() string {
	return string(t)
}

func (t InventoryTransactionType) IsValid() bool {
	for _, candidate := range validInventoryTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseInventoryTransactionType(value string) (InventoryTransactionType, error) {
	for _, candidate := range validInventoryTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory transaction type %q", value)
}
