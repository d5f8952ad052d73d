package idempotency

import (
	"context"
	"fmt"
	"time"
)

func ExampleManager_Claim() {
	ctx := context.Background()
	manager, _ := NewManager(newMemStore(), 7*24*time.Hour)
	const consumer, eventID = "stripe-webhook", "evt_3PzCheckoutCompleted"

	first, _ := manager.Claim(ctx, consumer, eventID)
	retry, _ := manager.Claim(ctx, consumer, eventID)
	_ = manager.Complete(ctx, consumer, eventID)
	late, _ := manager.Claim(ctx, consumer, eventID)

	fmt.Println(first, retry, late)
	// Output:
	// claimed in_flight done
}
