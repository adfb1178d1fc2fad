// Command seed provisions a superadmin account and a handful of sample
// schools for local development.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/edutech-rw/asset-api/internal/db"
	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/repository"
	"github.com/edutech-rw/asset-api/pkg/config"
	"github.com/edutech-rw/asset-api/pkg/database"
)

var sampleSchools = []models.School{
	{Name: "GS Kacyiru", Code: "GSK-001", District: "Gasabo", Sector: "Kacyiru", ContactEmail: "head@gskacyiru.rw"},
	{Name: "ES Nyarugenge", Code: "ESN-002", District: "Nyarugenge", Sector: "Nyamirambo", ContactEmail: "head@esnyarugenge.rw"},
	{Name: "GS Huye", Code: "GSH-003", District: "Huye", Sector: "Ngoma", ContactEmail: "head@gshuye.rw"},
}

func main() {
	var (
		adminEmail    string
		adminPassword string
		withSchools   bool
	)
	flag.StringVar(&adminEmail, "admin-email", "admin@example.rw", "Superadmin email")
	flag.StringVar(&adminPassword, "admin-password", "", "Superadmin password (required)")
	flag.BoolVar(&withSchools, "schools", true, "Also create sample schools")
	flag.Parse()

	if adminPassword == "" {
		log.Fatal("missing -admin-password")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sqlDB, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer sqlDB.Close() //nolint:errcheck

	if err := db.Migrate(ctx, sqlDB); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	users := repository.NewUserRepository(sqlDB)
	if _, err := users.FindByEmail(ctx, adminEmail); err == nil {
		log.Printf("superadmin %s already exists, skipping", adminEmail)
	} else if err != sql.ErrNoRows {
		log.Fatalf("failed to check superadmin: %v", err)
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}
		admin := &models.User{
			ID:           uuid.NewString(),
			Email:        adminEmail,
			PasswordHash: string(hash),
			FullName:     "Platform Superadmin",
			Role:         models.RoleSuperAdmin,
			Active:       true,
		}
		if err := users.Create(ctx, admin); err != nil {
			log.Fatalf("failed to create superadmin: %v", err)
		}
		log.Printf("created superadmin %s", adminEmail)
	}

	if !withSchools {
		return
	}

	schools := repository.NewSchoolRepository(sqlDB)
	created := 0
	for i := range sampleSchools {
		school := sampleSchools[i]
		exists, err := schools.ExistsByCode(ctx, school.Code, "")
		if err != nil {
			log.Fatalf("failed to check school %s: %v", school.Code, err)
		}
		if exists {
			continue
		}
		school.ID = uuid.NewString()
		if err := schools.Create(ctx, &school); err != nil {
			log.Fatalf("failed to create school %s: %v", school.Code, err)
		}
		created++
	}
	fmt.Printf("seed complete: %d sample schools created\n", created)
}
