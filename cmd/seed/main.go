package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/uptrace/bun"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/store/postgres"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	databaseURL := os.Getenv("MEDISCHED_DATABASE_URL")
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal("MEDISCHED_DATABASE_URL is required")
	}

	db, err := postgres.Open(databaseURL, postgres.PoolConfig{MaxOpenConns: 4})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer func() {
		_ = postgres.Close(db)
	}()

	gofakeit.Seed(time.Now().UnixNano())

	ctx := context.Background()
	if err := seedProviders(ctx, db, 25); err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedUsers(ctx, db, 500); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, db *bun.DB, count int) error {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := 0; i < count; i++ {
			p := domain.Provider{
				DisplayName: "Dr. " + gofakeit.Name(),
				Specialty:   specialties[gofakeit.Number(0, len(specialties)-1)],
				Active:      true,
			}
			if _, err := tx.NewInsert().Model(&p).Exec(ctx); err != nil {
				return err
			}
			if err := seedRules(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// seedRules gives each provider a Monday-Friday week with a morning and an
// afternoon block, occasionally dropping a day to keep the data uneven.
func seedRules(ctx context.Context, tx bun.Tx, p domain.Provider) error {
	for wd := time.Monday; wd <= time.Friday; wd++ {
		if gofakeit.Number(0, 9) == 0 {
			continue
		}
		blocks := [][2]int{
			{9 * 60, 12 * 60},
			{13 * 60, 17 * 60},
		}
		for _, b := range blocks {
			rule := domain.AvailabilityRule{
				ProviderID:  p.ID,
				Weekday:     wd,
				StartMinute: b[0],
				EndMinute:   b[1],
				Active:      true,
			}
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("generated invalid rule: %w", err)
			}
			if _, err := tx.NewInsert().Model(&rule).Exec(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func seedUsers(ctx context.Context, db *bun.DB, count int) error {
	log.Printf("seeding %d users", count)

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := 0; i < count; i++ {
			u := postgres.User{
				ID:        gofakeit.UUID(),
				Name:      gofakeit.Name(),
				Email:     gofakeit.Email(),
				CreatedAt: time.Now().UTC(),
			}
			if _, err := tx.NewInsert().Model(&u).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
