// Package app builds the collaborators the commands share from a loaded
// configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kdimtricp/signassist/internal/ai"
	"github.com/kdimtricp/signassist/internal/catalog"
	"github.com/kdimtricp/signassist/internal/config"
	"github.com/kdimtricp/signassist/internal/database"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/speech"
	"github.com/kdimtricp/signassist/internal/storage"
)

func DBConfig(cfg *config.Config) database.Config {
	return database.Config{
		Type:       cfg.DBType,
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		User:       cfg.DBUser,
		Password:   cfg.DBPassword,
		Name:       cfg.DBName,
		SQLitePath: cfg.DBPath,
	}
}

// OpenCatalog opens the sign database, applies pending migrations and
// imports the configured catalog files, if any.
func OpenCatalog(ctx context.Context, cfg *config.Config) (*database.DB, *database.SignRepository, error) {
	db, err := database.NewDB(ctx, DBConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	if _, err := database.NewMigrator(db.Conn(), db.Type()).Run(ctx, cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, nil, err
	}

	repo := database.NewSignRepository(db)
	if cfg.CatalogPath != "" || cfg.ClassNamesPath != "" {
		if _, err := ImportFiles(ctx, repo, cfg.CatalogPath, cfg.ClassNamesPath); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, repo, nil
}

// ImportFiles loads a sign text file and a class-name yaml file into store.
// Either path may be empty.
func ImportFiles(ctx context.Context, store catalog.Store, signPath, classesPath string) (catalog.ImportResult, error) {
	var (
		entries []models.SignInfo
		classes map[int]string
		err     error
	)
	if signPath != "" {
		if entries, err = catalog.LoadSignFile(signPath); err != nil {
			return catalog.ImportResult{}, err
		}
	}
	if classesPath != "" {
		if classes, err = catalog.LoadClassNames(classesPath); err != nil {
			return catalog.ImportResult{}, err
		}
	}
	return catalog.Import(ctx, store, entries, classes)
}

// Inference is the configured client plus the pieces the diagnostics
// command reports on.
type Inference struct {
	*ai.Client
	Backend  string
	Detector *ai.DetectorClient
	Gemini   *ai.GeminiClient
}

// NewInference wires the identification backend selected by
// INFERENCE_BACKEND. Detail lookups always go to Gemini when a key is set.
func NewInference(ctx context.Context, cfg *config.Config, lookup ai.SignLookup) (*Inference, error) {
	inf := &Inference{Backend: cfg.InferenceBackend}

	if cfg.GeminiAPIKey != "" {
		g, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		inf.Gemini = g
	} else {
		slog.Warn("GEMINI_API_KEY not set; sign details are unavailable")
	}

	var identify ai.Backend
	switch cfg.InferenceBackend {
	case "detector":
		inf.Detector = ai.NewDetectorClient(cfg.DetectorURL, lookup, ai.DetectorOptions{
			MinConfidence: cfg.DetectorMinConfidence,
			IoUThreshold:  cfg.DetectorIoUThreshold,
			Timeout:       cfg.InferenceTimeout,
		})
		identify = inf.Detector
	case "gemini":
		if inf.Gemini == nil {
			slog.Warn("gemini backend selected without an API key; every identification will fail")
		} else {
			identify = inf.Gemini
		}
	default:
		return nil, fmt.Errorf("unsupported inference backend: %q", cfg.InferenceBackend)
	}

	var details ai.DetailsBackend
	if inf.Gemini != nil {
		details = inf.Gemini
	}
	inf.Client = ai.NewClient(identify, details, slog.Default())
	return inf, nil
}

func NewStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "azure":
		s, err := storage.NewAzureStorage(ctx, cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "local", "":
		s, err := storage.NewLocalStorage(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.StorageType)
	}
}

// SpeakerFactory returns the per-session speech output for SPEAKER, or nil
// when speech is off.
func SpeakerFactory(cfg *config.Config) func(speech.Publisher) speech.Speaker {
	switch cfg.Speaker {
	case "browser":
		return func(pub speech.Publisher) speech.Speaker { return speech.NewBrowserSpeaker(pub) }
	case "pulse":
		return func(speech.Publisher) speech.Speaker { return speech.NewPulseSpeaker(cfg.SpeechCommand) }
	default:
		return nil
	}
}
