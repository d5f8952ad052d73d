package enums

import "fmt"

// ReturnCondition describes the state of a unit coming back from a customer.
type ReturnCondition string

const (
	ReturnConditionResellable ReturnCondition = "RESELLABLE"
	ReturnConditionDamaged    ReturnCondition = "DAMAGED"
)

var validReturnConditions = []ReturnCondition{
	ReturnConditionResellable,
	ReturnConditionDamaged,
}

func (c ReturnCondition) IsValid() bool {
	for _, candidate := range validReturnConditions {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseReturnCondition(value string) (ReturnCondition, error) {
	for _, candidate := range validReturnConditions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return condition %q", value)
}

// ReturnStatus tracks a return request.
type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "REQUESTED"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusRejected  ReturnStatus = "REJECTED"
	ReturnStatusCompleted ReturnStatus = "COMPLETED"
)
