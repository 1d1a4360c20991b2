package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/clinic-scheduling/internal/config"
	"github.com/carebridge/clinic-scheduling/internal/db"
	"github.com/carebridge/clinic-scheduling/internal/scheduling"
)

var departments = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	physicianCount := flag.Int("physicians", 50, "number of physicians to seed")
	patientCount := flag.Int("patients", 2000, "number of patients to seed")
	slotDays := flag.Int("slot-days", 7, "days of slots to generate per physician, starting tomorrow")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	physicianIDs, err := seedPhysicians(context.Background(), pool, *physicianCount)
	if err != nil {
		log.Fatalf("seed physicians: %v", err)
	}
	if err := seedPatients(context.Background(), pool, *patientCount); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, physicianIDs, *slotDays); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedPhysicians(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d physicians", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		dept := departments[gofakeit.Number(0, len(departments)-1)]
		fee := int64(gofakeit.Number(30, 200)) * 100

		_, err := tx.Exec(ctx, `
			INSERT INTO physicians (id, name, department, consultation_fee_cents, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, dept, fee)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("physicians seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedSlots fills a 09:00-17:00 grid at the default granularity for each
// physician, skipping conflicts so reruns are harmless.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, physicianIDs []uuid.UUID, days int) error {
	log.Printf("seeding %d days of slots for %d physicians", days, len(physicianIDs))

	labels := make([]string, 0, 32)
	dayStart := time.Date(2000, 1, 1, 9, 0, 0, 0, time.UTC)
	dayEnd := time.Date(2000, 1, 1, 17, 0, 0, 0, time.UTC)
	for t := dayStart; t.Before(dayEnd); t = t.Add(scheduling.DefaultGranularityMinutes * time.Minute) {
		labels = append(labels, t.Format(scheduling.TimeLayout))
	}

	total := 0
	for _, physicianID := range physicianIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 1; d <= days; d++ {
			date := time.Now().AddDate(0, 0, d).Format(scheduling.DateLayout)
			for _, label := range labels {
				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, physician_id, slot_date, time_label, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, 'open', now(), now())
					ON CONFLICT (physician_id, slot_date, time_label) DO NOTHING
				`, uuid.New(), physicianID, date, label)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				total++
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Printf("slots seeded: %d", total)
	return nil
}
