package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/inkpress-backend/internal/costs"
	"github.com/yungbote/inkpress-backend/internal/notify"
	"github.com/yungbote/inkpress-backend/internal/pipeline"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/provider"
	"github.com/yungbote/inkpress-backend/internal/queue"
	"github.com/yungbote/inkpress-backend/internal/ratelimit"
	"github.com/yungbote/inkpress-backend/internal/reportid"
	"github.com/yungbote/inkpress-backend/internal/services"
	"github.com/yungbote/inkpress-backend/internal/session"
	"github.com/yungbote/inkpress-backend/internal/worker"
)

type Services struct {
	// Shared by both roles
	Ledger      costs.Ledger
	Queue       queue.Queue
	IDs         reportid.Service
	Extraction  services.ExtractionService
	Manuscripts services.ManuscriptService
	Notifier    notify.Notifier

	// Ingress
	Sessions session.Store
	Auth     services.AuthService
	Limiter  ratelimit.Limiter

	// Worker
	Chat     provider.Chat
	Images   provider.ImageGen
	Pipeline *pipeline.Pipeline
	Worker   *worker.Worker
}

func wireServices(log *logger.Logger, cfg Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	ledger, err := costs.NewLedger(log, repos.CostEntry, cfg.MonthlyBudgetUSD)
	if err != nil {
		return Services{}, fmt.Errorf("init cost ledger: %w", err)
	}

	q, err := queue.NewRedisQueue(log, clients.Redis)
	if err != nil {
		return Services{}, fmt.Errorf("init job queue: %w", err)
	}

	ids, err := reportid.NewService(log, clients.Store, clients.Redis)
	if err != nil {
		return Services{}, fmt.Errorf("init report id service: %w", err)
	}

	extraction, err := services.NewExtractionService(log, clients.Store, clients.Document)
	if err != nil {
		return Services{}, fmt.Errorf("init extraction service: %w", err)
	}

	manuscripts, err := services.NewManuscriptService(log, repos.Manuscript, clients.Store, extraction, cfg.MaxFileSize)
	if err != nil {
		return Services{}, fmt.Errorf("init manuscript service: %w", err)
	}

	notifier, err := notify.NewNotifier(log, repos.User, clients.Mail, cfg.FrontendURL)
	if err != nil {
		return Services{}, fmt.Errorf("init notifier: %w", err)
	}

	svcs := Services{
		Ledger:      ledger,
		Queue:       q,
		IDs:         ids,
		Extraction:  extraction,
		Manuscripts: manuscripts,
		Notifier:    notifier,
	}

	if cfg.RunsIngress() {
		sessions, err := session.NewRedisStore(log, clients.Redis, cfg.SessionTTL, cfg.RememberTTL)
		if err != nil {
			return Services{}, fmt.Errorf("init session store: %w", err)
		}
		auth, err := services.NewAuthService(log, repos.User, sessions, cfg.SessionSecret, cfg.JWTSecretKey, cfg.AccessTokenTTL)
		if err != nil {
			return Services{}, fmt.Errorf("init auth service: %w", err)
		}
		limiter, err := ratelimit.NewRedisLimiter(log, clients.Redis, ratelimit.LimitsFromEnv())
		if err != nil {
			return Services{}, fmt.Errorf("init rate limiter: %w", err)
		}
		svcs.Sessions = sessions
		svcs.Auth = auth
		svcs.Limiter = limiter
	}

	if cfg.RunsWorker() {
		pricing, err := provider.LoadPricing(cfg.PricingFile)
		if err != nil {
			return Services{}, fmt.Errorf("load model pricing: %w", err)
		}

		// The ledger doubles as the provider cost recorder.
		var chat provider.Chat
		var images provider.ImageGen
		switch cfg.ChatProvider {
		case "", "anthropic":
			chat, err = provider.NewAnthropic(log, pricing, ledger)
			if err != nil {
				return Services{}, fmt.Errorf("init anthropic client: %w", err)
			}
		case "openai":
			oa, err := provider.NewOpenAI(log, pricing, ledger)
			if err != nil {
				return Services{}, fmt.Errorf("init openai client: %w", err)
			}
			chat = oa
			images = oa
		default:
			return Services{}, fmt.Errorf("unsupported chat provider %q", cfg.ChatProvider)
		}
		if images == nil {
			if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
				oa, err := provider.NewOpenAI(log, pricing, ledger)
				if err != nil {
					return Services{}, fmt.Errorf("init openai client: %w", err)
				}
				images = oa
			} else {
				log.Warn("OPENAI_API_KEY not set, cover image generation disabled")
			}
		}

		pipe, err := pipeline.NewPipeline(log, clients.Store, ids, chat, images, clients.Vision, repos.Manuscript, extraction, notifier)
		if err != nil {
			return Services{}, fmt.Errorf("init pipeline: %w", err)
		}
		wkr, err := worker.NewWorker(log, q, pipe, ids, repos.Manuscript, notifier, cfg.WorkerSlots)
		if err != nil {
			return Services{}, fmt.Errorf("init worker: %w", err)
		}
		svcs.Chat = chat
		svcs.Images = images
		svcs.Pipeline = pipe
		svcs.Worker = wkr
	}

	return svcs, nil
}
