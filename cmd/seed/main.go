// Command seed loads contacts and templates from a JSON file into the
// configured store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"broadcast-engine/config"
	"broadcast-engine/internal/bootstrap"
	"broadcast-engine/internal/models"
	"broadcast-engine/pkg/logger"

	"github.com/joho/godotenv"
)

type seedFile struct {
	Contacts  []*models.Contact  `json:"contacts"`
	Templates []*models.Template `json:"templates"`
}

func main() {
	path := flag.String("file", "config/seed.example.json", "JSON file with contacts and templates")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logger.NewLogger("broadcast-seed", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	raw, err := os.ReadFile(*path)
	if err != nil {
		logger.Fatalf("Failed to read %s: %v", *path, err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		logger.Fatalf("Failed to parse %s: %v", *path, err)
	}

	stores, closer, err := bootstrap.OpenStorage(cfg, logger.Desugar())
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	if closer != nil {
		defer closer(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	for _, t := range seed.Templates {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		if err := stores.Templates.Save(ctx, t); err != nil {
			logger.Fatalf("Failed to save template %s: %v", t.ID, err)
		}
	}

	contacts := 0
	for _, c := range seed.Contacts {
		if c.Phone == "" {
			logger.Warnf("Skipping contact without phone: %+v", c)
			continue
		}
		if c.Status == "" {
			c.Status = models.ContactActive
		}
		if err := stores.Contacts.Upsert(ctx, c); err != nil {
			logger.Fatalf("Failed to upsert contact %s: %v", c.Phone, err)
		}
		contacts++
	}

	logger.Infof("Seeded %d templates and %d contacts", len(seed.Templates), contacts)
}
