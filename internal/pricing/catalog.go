package pricing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrPriceNotFound is matched by every PriceNotFoundError.
var ErrPriceNotFound = errors.New("pricing: price not found")

// PriceNotFoundError reports a lookup that exhausted every strategy.
type PriceNotFoundError struct {
	Query Query
}

func (e *PriceNotFoundError) Error() string {
	return fmt.Sprintf("pricing: no catalogue price for service=%s vehicle=%s category=%s duration=%dh",
		e.Query.ServiceTypeID, e.Query.VehicleID, e.Query.CategoryID, e.Query.DurationHours)
}

// Is lets errors.Is match ErrPriceNotFound.
func (e *PriceNotFoundError) Is(target error) bool {
	return target == ErrPriceNotFound
}

// hourlyDuration marks catalogue entries that hold an hourly rate.
const hourlyDuration = 1

// PriceItem is a catalogue entry.
type PriceItem struct {
	ID            uuid.UUID       `json:"id"`
	CategoryID    *uuid.UUID      `json:"category_id,omitempty"`
	ServiceTypeID *uuid.UUID      `json:"service_type_id,omitempty"`
	VehicleID     *uuid.UUID      `json:"vehicle_id,omitempty"`
	DurationHours int             `json:"duration_hours"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Active        bool            `json:"active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Category groups catalogue entries and the service types they apply to.
type Category struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	ServiceTypeIDs []uuid.UUID `json:"service_type_ids"`
	SortOrder      int         `json:"sort_order"`
	Active         bool        `json:"active"`
}

// Catalog is an immutable snapshot of the pricing tables.
type Catalog struct {
	Items      []PriceItem `json:"items"`
	Categories []Category  `json:"categories"`
	TimeRules  []TimeRule  `json:"time_rules"`
}

// Query describes the single service being priced.
type Query struct {
	ServiceTypeID uuid.UUID `json:"service_type_id"`
	VehicleID     uuid.UUID `json:"vehicle_id"`
	CategoryID    uuid.UUID `json:"category_id"`
	DurationHours int       `json:"duration_hours"`
	ServiceDays   int       `json:"service_days"`
}

func (q Query) empty() bool {
	return q.ServiceTypeID == uuid.Nil && q.VehicleID == uuid.Nil && q.CategoryID == uuid.Nil
}

func (q Query) days() decimal.Decimal {
	if q.ServiceDays <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(q.ServiceDays))
}

func (q Query) hours() decimal.Decimal {
	if q.DurationHours <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(q.DurationHours))
}

// Price is a resolved catalogue price.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	ItemID   uuid.UUID       `json:"item_id"`
	Strategy string          `json:"strategy"`
}

// Strategy resolves a price from a snapshot, reporting false when it does not apply.
type Strategy struct {
	Name string
	Find func(Catalog, Query) (Price, bool)
}

// DefaultStrategies is the lookup order used by the service.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "exact", Find: findExact},
		{Name: "vehicle_hourly", Find: findVehicleHourly},
		{Name: "vehicle_any", Find: findVehicleAny},
		{Name: "category", Find: findCategory},
		{Name: "category_hourly", Find: findCategoryHourly},
	}
}

// Lookup tries each strategy in order.
func Lookup(cat Catalog, q Query, strategies []Strategy) (Price, error) {
	for _, s := range strategies {
		if p, ok := s.Find(cat, q); ok {
			p.Strategy = s.Name
			return p, nil
		}
	}
	return Price{}, &PriceNotFoundError{Query: q}
}

func findExact(cat Catalog, q Query) (Price, bool) {
	item, ok := cat.newest(func(it PriceItem) bool {
		return idEquals(it.ServiceTypeID, q.ServiceTypeID) &&
			idEquals(it.VehicleID, q.VehicleID) &&
			it.DurationHours == q.DurationHours &&
			(q.CategoryID == uuid.Nil || idEquals(it.CategoryID, q.CategoryID))
	})
	if !ok {
		return Price{}, false
	}
	return priceOf(item, item.Price.Mul(q.days())), true
}

func findVehicleHourly(cat Catalog, q Query) (Price, bool) {
	item, ok := cat.newest(func(it PriceItem) bool {
		return idEquals(it.VehicleID, q.VehicleID) && it.DurationHours == hourlyDuration
	})
	if !ok {
		return Price{}, false
	}
	return priceOf(item, item.Price.Mul(q.hours()).Mul(q.days())), true
}

func findVehicleAny(cat Catalog, q Query) (Price, bool) {
	item, ok := cat.newest(func(it PriceItem) bool {
		return idEquals(it.VehicleID, q.VehicleID)
	})
	if !ok {
		return Price{}, false
	}
	return priceOf(item, item.Price), true
}

func findCategory(cat Catalog, q Query) (Price, bool) {
	item, ok := cat.newest(func(it PriceItem) bool {
		return it.VehicleID == nil &&
			cat.inQueryCategory(it, q) &&
			idEquals(it.ServiceTypeID, q.ServiceTypeID) &&
			it.DurationHours == q.DurationHours
	})
	if !ok {
		return Price{}, false
	}
	return priceOf(item, item.Price.Mul(q.days())), true
}

func findCategoryHourly(cat Catalog, q Query) (Price, bool) {
	item, ok := cat.newest(func(it PriceItem) bool {
		return it.VehicleID == nil && cat.inQueryCategory(it, q) && it.DurationHours == hourlyDuration
	})
	if !ok {
		return Price{}, false
	}
	return priceOf(item, item.Price.Mul(q.hours()).Mul(q.days())), true
}

// inQueryCategory reports whether the item belongs to the requested category, or to an
// active category covering the requested service type when no category was given.
func (c Catalog) inQueryCategory(it PriceItem, q Query) bool {
	if it.CategoryID == nil {
		return false
	}
	if q.CategoryID != uuid.Nil {
		return *it.CategoryID == q.CategoryID
	}
	for _, cat := range c.Categories {
		if cat.ID != *it.CategoryID || !cat.Active {
			continue
		}
		for _, st := range cat.ServiceTypeIDs {
			if st == q.ServiceTypeID {
				return true
			}
		}
	}
	return false
}

// newest returns the most recently updated active item matching fn.
func (c Catalog) newest(fn func(PriceItem) bool) (PriceItem, bool) {
	matches := make([]PriceItem, 0, 4)
	for _, it := range c.Items {
		if it.Active && fn(it) {
			matches = append(matches, it)
		}
	}
	if len(matches) == 0 {
		return PriceItem{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	return matches[0], true
}

func priceOf(item PriceItem, amount decimal.Decimal) Price {
	return Price{Amount: amount, Currency: item.Currency, ItemID: item.ID}
}

func idEquals(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}
