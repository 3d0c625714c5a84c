package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kdimtricp/signassist/internal/app"
	"github.com/kdimtricp/signassist/internal/config"
	"github.com/kdimtricp/signassist/internal/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}

	var (
		migrationsPath = flag.String("migrations", cfg.MigrationsPath, "Path to migrations directory")
		catalogPath    = flag.String("catalog", cfg.CatalogPath, "Sign info file (code|name|meaning per line)")
		classesPath    = flag.String("classes", cfg.ClassNamesPath, "data.yaml with detector class names")
		status         = flag.Bool("status", false, "Show migration status and catalog size only")
	)
	flag.Parse()

	ctx := context.Background()
	db, err := database.NewDB(ctx, app.DBConfig(cfg))
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db.Conn(), db.Type())
	repo := database.NewSignRepository(db)

	if *status {
		printStatus(ctx, db, migrator, repo, *migrationsPath)
		return
	}

	fmt.Printf("Running migrations from %s...\n", *migrationsPath)
	n, err := migrator.Run(ctx, *migrationsPath)
	if err != nil {
		fatal("failed to run migrations", err)
	}
	fmt.Printf("Applied %d migration(s)\n", n)

	if *catalogPath == "" && *classesPath == "" {
		return
	}
	res, err := app.ImportFiles(ctx, repo, *catalogPath, *classesPath)
	if err != nil {
		fatal("failed to import catalog", err)
	}
	fmt.Printf("Imported %d sign(s), %d default entr(ies) for unlisted classes\n", res.Entries, res.Defaults)
}

func printStatus(ctx context.Context, db *database.DB, migrator *database.Migrator, repo *database.SignRepository, migrationsPath string) {
	fmt.Println("Migration Status:")
	fmt.Println("=================")
	if db.Type() != "postgres" {
		fmt.Printf("%s schema is created on open; no migrations tracked\n", db.Type())
	} else {
		if err := migrator.Initialize(ctx); err != nil {
			fatal("failed to initialize migrator", err)
		}
		applied, err := migrator.GetAppliedMigrations(ctx)
		if err != nil {
			fatal("failed to get applied migrations", err)
		}
		migrations, err := database.LoadMigrations(migrationsPath)
		if err != nil {
			fatal("failed to load migrations", err)
		}
		for _, m := range migrations {
			state := "pending"
			if applied[m.Version] {
				state = "applied"
			}
			fmt.Printf("%s - %s [%s]\n", m.Version, m.Name, state)
		}
	}

	count, err := repo.Count(ctx)
	if err != nil {
		fatal("failed to count signs", err)
	}
	fmt.Printf("\nCatalog signs: %d\n", count)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
