package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/md-rashed-zaman/shopbook/libs/config"
	"github.com/md-rashed-zaman/shopbook/libs/runtime"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/migrations"
)

// Usage: migrate [up | down | force <version>]
func main() {
	_ = config.LoadDotEnv()
	logger := runtime.NewLogger("booking-migrate", config.String("LOG_LEVEL", "info"))

	fail := func(msg string, err error) {
		logger.Error(msg, "err", err)
		os.Exit(1)
	}

	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		fail("config", err)
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		fail("open db", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		fail("ping db", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "booking_schema_migrations"})
	if err != nil {
		fail("db driver", err)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		fail("source driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		fail("create migrator", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "force":
		if len(os.Args) < 3 {
			fail("force", errors.New("version required"))
		}
		version, perr := strconv.Atoi(os.Args[2])
		if perr != nil {
			fail("invalid version", perr)
		}
		err = m.Force(version)
	default:
		fail("unknown command", errors.New(cmd))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fail("migrate "+cmd, err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		fail("read version", verr)
	}
	logger.Info("migrations complete", "command", cmd, "version", version, "dirty", dirty)
}
