package ledger

// Audit notes written on ledger entries.
const (
	ReasonOrderReservation    = "Order Reservation"
	ReasonOrderPaid           = "Order Paid"
	ReasonReservationReleased = "Reservation Released"
	ReasonZombieRecovery      = "Zombie Recovery: Order Paid after Expiry"
	ReasonReturnApproved      = "Return Approved"
	ReasonReturnResellable    = "Return: Resellable"
	ReasonReturnDamaged       = "Return: Damaged/Write-off"
	ReasonRefundRestock       = "Refund Restock"
	ReasonRestock             = "Restock"
)
