package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospitalops/appointment-management/internal/db"
)

var departments = []string{
	"Cardiology",
	"Dermatology",
	"General Medicine",
	"Orthopedics",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
	"Emergency Medicine",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	deptIDs, err := seedDepartments(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed departments: %v", err)
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, deptIDs, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedDepartments(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Printf("seeding %d departments", len(departments))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(departments))
	for _, name := range departments {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO departments (id, name, is_active, created_at)
			VALUES ($1, $2, true, now())
			ON CONFLICT (name) DO UPDATE SET is_active = true
			RETURNING id
		`, uuid.New(), name).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("departments seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, deptIDs []uuid.UUID, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		dept := deptIDs[gofakeit.Number(0, len(deptIDs)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, department_id, is_active, created_at)
			VALUES ($1, $2, $3, true, now())
		`, id, name, dept)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
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
			phone := gofakeit.Phone()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, phone, email, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, id, name, phone, email)
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

// seedSlots gives every doctor half-hour slots between 09:00 and 17:00 for
// each of the next `days` days.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, days int) error {
	log.Printf("seeding slots for %d doctors over %d days", len(doctorIDs), days)

	today := time.Now()

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 1; d <= days; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")

			for hour := 9; hour < 17; hour++ {
				for _, minute := range []int{0, 30} {
					start := fmt.Sprintf("%02d:%02d:00", hour, minute)
					endH, endM := hour, minute+30
					if endM == 60 {
						endH, endM = hour+1, 0
					}
					end := fmt.Sprintf("%02d:%02d:00", endH, endM)

					_, err := tx.Exec(ctx, `
						INSERT INTO doctor_available_slots (id, doctor_id, available_date, start_time, end_time, is_booked, created_at)
						VALUES ($1, $2, $3::date, $4::time, $5::time, false, now())
						ON CONFLICT (doctor_id, available_date, start_time) DO NOTHING
					`, uuid.New(), doctorID, date, start, end)
					if err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("slots seeded")
	return nil
}
