package model

import "time"

// ParentOrder is a TWAP order: a parent intent sliced uniformly over
// duration_seconds and "executed" against the live consolidated book.
type ParentOrder struct {
	OrderID  string
	Owner    string
	Symbol   string
	Venues   []Venue
	Side     Side
	Status   OrderStatus

	TotalQuantity Decimal
	LimitPrice    Decimal
	DurationSecs  int

	CreatedAt time.Time

	// Running aggregates, recomputed after every slice.
	LotsCount         int
	TotalExecuted     Decimal
	AvgExecutionPrice Decimal
	PercentExecuted   Decimal
}

// Execution is one fill record for one price level consumed in one
// slice. Immutable once written.
type Execution struct {
	ID        int64
	OrderID   string
	Symbol    string
	Side      Side
	Quantity  Decimal
	Price     Decimal
	Venue     Venue
	Timestamp time.Time
}

// ApplyExecutions folds a slice's fills into the parent order's running
// aggregates. It is the sole place TotalExecuted, AvgExecutionPrice,
// LotsCount and PercentExecuted are mutated, and it is always called by
// the engine that owns this order (see twap.Engine.runSlice).
func (o *ParentOrder) ApplyExecutions(fills []Execution, priceSum, qtySum *Decimal) error {
	for _, f := range fills {
		cost, err := Mul(f.Price, f.Quantity)
		if err != nil {
			return err
		}
		newPriceSum, err := Add(*priceSum, cost)
		if err != nil {
			return err
		}
		newQtySum, err := Add(*qtySum, f.Quantity)
		if err != nil {
			return err
		}
		*priceSum, *qtySum = newPriceSum, newQtySum

		total, err := Add(o.TotalExecuted, f.Quantity)
		if err != nil {
			return err
		}
		o.TotalExecuted = total
		o.LotsCount++
	}

	if !qtySum.IsZero() {
		avg, err := Quo(*priceSum, *qtySum)
		if err != nil {
			return err
		}
		o.AvgExecutionPrice = avg
	}

	if !o.TotalQuantity.IsZero() {
		pct, err := Quo(o.TotalExecuted, o.TotalQuantity)
		if err != nil {
			return err
		}
		pct, err = Mul(pct, DecimalFromInt(100))
		if err != nil {
			return err
		}
		o.PercentExecuted = pct
	}

	return nil
}

// User is the minimal identity the core consumes from the external
// Auth Gate: only (id, role) matter to authorization decisions here.
type User struct {
	ID       string
	Username string
	Role     string
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
