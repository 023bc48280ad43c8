package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Source loads the catalogue tables.
type Source interface {
	LoadCatalog(ctx context.Context) (Catalog, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository reads pricing tables from Postgres.
type Repository struct {
	db dbtx
}

// NewRepository constructs a Repository over a pool or transaction.
func NewRepository(db dbtx) *Repository {
	return &Repository{db: db}
}

// LoadCatalog reads items, categories and time rules in one snapshot.
func (r *Repository) LoadCatalog(ctx context.Context) (Catalog, error) {
	items, err := r.listItems(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("pricing: list items: %w", err)
	}
	categories, err := r.listCategories(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("pricing: list categories: %w", err)
	}
	rules, err := r.listTimeRules(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("pricing: list time rules: %w", err)
	}
	return Catalog{Items: items, Categories: categories, TimeRules: rules}, nil
}

func (r *Repository) listItems(ctx context.Context) ([]PriceItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, category_id::text, service_type_id::text, vehicle_id::text,
		       duration_hours, price::text, currency, is_active, updated_at
		FROM pricing_items
		WHERE is_active
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PriceItem
	for rows.Next() {
		var (
			it                           PriceItem
			categoryID, serviceID, vehID *string
			price                        string
		)
		if err := rows.Scan(&it.ID, &categoryID, &serviceID, &vehID, &it.DurationHours, &price, &it.Currency, &it.Active, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("item %s price: %w", it.ID, err)
		}
		it.CategoryID = parseOptionalUUID(categoryID)
		it.ServiceTypeID = parseOptionalUUID(serviceID)
		it.VehicleID = parseOptionalUUID(vehID)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) listCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, COALESCE(service_type_ids::text[], '{}'), sort_order, is_active
		FROM pricing_categories
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var (
			c        Category
			services []string
		)
		if err := rows.Scan(&c.ID, &c.Name, &services, &c.SortOrder, &c.Active); err != nil {
			return nil, err
		}
		for _, s := range services {
			if id, err := uuid.Parse(s); err == nil {
				c.ServiceTypeIDs = append(c.ServiceTypeIDs, id)
			}
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *Repository) listTimeRules(ctx context.Context) ([]TimeRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		       adjustment_percentage::text, COALESCE(applicable_days, '{}'), priority, is_active,
		       category_id::text, service_type_id::text
		FROM pricing_time_rules
		WHERE is_active
		ORDER BY priority DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []TimeRule
	for rows.Next() {
		var (
			rule                  TimeRule
			start, end, pct       string
			days                  []int32
			categoryID, serviceID *string
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &start, &end, &pct, &days, &rule.Priority, &rule.Active, &categoryID, &serviceID); err != nil {
			return nil, err
		}
		if rule.Start, err = ParseClock(start); err != nil {
			return nil, err
		}
		if rule.End, err = ParseClock(end); err != nil {
			return nil, err
		}
		if rule.AdjustmentPercentage, err = decimal.NewFromString(pct); err != nil {
			return nil, fmt.Errorf("rule %s adjustment: %w", rule.ID, err)
		}
		for _, d := range days {
			rule.Days = append(rule.Days, time.Weekday(d))
		}
		rule.CategoryID = parseOptionalUUID(categoryID)
		rule.ServiceTypeID = parseOptionalUUID(serviceID)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}
