package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
	"github.com/hackgods/dental-consult-booking/internal/catalog"
	"github.com/hackgods/dental-consult-booking/internal/db"
	"github.com/hackgods/dental-consult-booking/internal/slots"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	days := getInt("SEED_DAYS", 10)
	fill := getFloat("SEED_FILL_RATIO", 0.35)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	dates := slots.BookableDates(time.Now().UTC(), days)
	if err := seedBookings(context.Background(), pool, faker, catalog.Default(), dates, fill); err != nil {
		log.Fatalf("seed bookings: %v", err)
	}

	log.Println("seed complete")
}

// seedBookings books roughly fill of every dentist's slots on each date. Rows that
// collide with an existing active booking are skipped by the unique index.
func seedBookings(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, cat *catalog.Catalog, dates []time.Time, fill float64) error {
	log.Printf("seeding bookings over %d days at fill ratio %.2f", len(dates), fill)

	services := cat.Services()
	now := time.Now()
	var inserted, skipped int

	for _, date := range dates {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for _, p := range cat.Providers() {
			for _, s := range slots.DaySlots() {
				startAt := s.On(date)
				if startAt.Before(now) || faker.Float64() >= fill {
					continue
				}

				svc := services[faker.Number(0, len(services)-1)]
				tag, err := tx.Exec(ctx, `
					INSERT INTO appointments
						(id, patient_id, provider_id, provider_name, start_at, status, notes, service_type, service_name, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
					ON CONFLICT DO NOTHING
				`, uuid.New(), faker.UUID(), p.ID, p.Name, startAt, appointment.StatusConfirmed, faker.Sentence(6), svc.ID, svc.Name)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				if tag.RowsAffected() == 0 {
					skipped++
				} else {
					inserted++
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Printf("bookings seeded for %s", date.Format(time.DateOnly))
	}

	log.Printf("bookings seeded: inserted=%d skipped=%d", inserted, skipped)
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
