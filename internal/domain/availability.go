package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const minutesPerDay = 24 * 60

// Provider is read-only from the scheduling core's point of view: rows are
// created and edited by provider management elsewhere.
type Provider struct {
	bun.BaseModel `bun:"table:providers"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	DisplayName string    `bun:"display_name,notnull"`
	Specialty   string    `bun:"specialty"`
	Active      bool      `bun:"active,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`

	Rules []AvailabilityRule `bun:"rel:has-many,join:id=provider_id"`
}

// ActiveRules returns the provider's active availability rules only.
func (p *Provider) ActiveRules() []AvailabilityRule {
	out := make([]AvailabilityRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// AvailabilityRule is one recurring weekly window during which a provider can
// be booked. Start and end are minutes from midnight of the canonical (UTC)
// clock. Multiple rules per weekday are permitted and may overlap.
type AvailabilityRule struct {
	bun.BaseModel `bun:"table:availability_rules"`

	ID          uuid.UUID    `bun:"id,pk,type:uuid"`
	ProviderID  uuid.UUID    `bun:"provider_id,notnull,type:uuid"`
	Weekday     time.Weekday `bun:"weekday,notnull"`
	StartMinute int          `bun:"start_minute,notnull"`
	EndMinute   int          `bun:"end_minute,notnull"`
	Active      bool         `bun:"active,notnull"`
	CreatedAt   time.Time    `bun:"created_at,notnull"`
	UpdatedAt   time.Time    `bun:"updated_at,notnull"`
}

func (r *AvailabilityRule) Validate() error {
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return errors.New("weekday out of range")
	}
	if r.StartMinute < 0 || r.EndMinute > minutesPerDay {
		return errors.New("rule window out of day bounds")
	}
	if r.StartMinute >= r.EndMinute {
		return errors.New("rule start must be before rule end")
	}
	return nil
}

// WindowOn anchors the rule to a concrete calendar date in UTC.
func (r *AvailabilityRule) WindowOn(date time.Time) TimeWindow {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return TimeWindow{
		Start: midnight.Add(time.Duration(r.StartMinute) * time.Minute),
		End:   midnight.Add(time.Duration(r.EndMinute) * time.Minute),
	}
}

func (r *AvailabilityRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func (p *Provider) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if p.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			p.ID = id
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		p.UpdatedAt = now
	}
	return nil
}
