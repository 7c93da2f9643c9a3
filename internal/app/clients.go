package app

import (
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/clients/gcp"
	"github.com/yungbote/inkpress-backend/internal/clients/redis"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/platform/sendgrid"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

type Clients struct {
	Redis    *goredis.Client
	Store    storage.ArtifactStore
	Document gcp.Document
	Vision   gcp.Vision
	Mail     sendgrid.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	rdb, err := redis.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}

	// Artifact store. STORAGE_MODE=memory keeps everything in-process for
	// local runs without a bucket; artifacts vanish on restart.
	var store storage.ArtifactStore
	switch cfg.StorageMode {
	case "", "gcs":
		store, err = gcp.NewArtifactStore(log)
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("init artifact store: %w", err)
		}
	case "memory":
		log.Warn("STORAGE_MODE=memory: artifacts are not durable")
		store = storage.NewMemoryStore()
	default:
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("unsupported storage mode %q", cfg.StorageMode)
	}

	// Document AI is optional. Without it plain-text uploads still work and
	// PDFs are rejected at upload time.
	var document gcp.Document
	if strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID")) != "" {
		document, err = gcp.NewDocument(log)
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("init document client: %w", err)
		}
	} else {
		log.Info("Document AI not configured, PDF extraction disabled")
	}

	// Vision review is best effort; a worker without GCP credentials just
	// skips the cover safe-search pass.
	var vision gcp.Vision
	if cfg.RunsWorker() {
		vision, err = gcp.NewVision(log)
		if err != nil {
			log.Warn("Vision unavailable, cover review disabled", "error", err)
			vision = nil
		}
	}

	var mail sendgrid.Client
	if strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")) != "" {
		mail, err = sendgrid.NewFromEnv(log)
		if err != nil {
			if vision != nil {
				_ = vision.Close()
			}
			if document != nil {
				_ = document.Close()
			}
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("init sendgrid client: %w", err)
		}
	} else {
		log.Info("SendGrid not configured, email notifications disabled")
	}

	return Clients{
		Redis:    rdb,
		Store:    store,
		Document: document,
		Vision:   vision,
		Mail:     mail,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Vision != nil {
		_ = c.Vision.Close()
	}
	if c.Document != nil {
		_ = c.Document.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
