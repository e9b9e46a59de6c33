package redisx

import "time"

const (
	// Cart per user: hash cart:{user_id}, field product_id -> json line item
	KeyCart = "cart:%s"

	// Idempotency create order: idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "payment_status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Saga journal per order: hash saga:{order_id}, field state -> timestamp
	KeySaga = "saga:%s"
)

var (
	TTLCart        = 24 * time.Hour
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLSaga        = 48 * time.Hour
)
