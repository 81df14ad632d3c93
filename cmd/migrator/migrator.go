package main

import (
	"log"
	"os"

	pg "github.com/NordCoder/Storefront/internal/repository/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	dbURL := os.Getenv("DB_DSN")
	if dbURL == "" {
		log.Fatal("DB_DSN is empty")
	}

	goose.SetBaseFS(pg.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}
	db, err := goose.OpenDBWithDriver("pgx", dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "up":
		err = goose.Up(db, pg.MigrationsDir)
	case "down":
		err = goose.Down(db, pg.MigrationsDir)
	case "status":
		err = goose.Status(db, pg.MigrationsDir)
	default:
		log.Fatalf("unknown command %q (want up, down or status)", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
	log.Printf("migrations: %s OK", cmd)
}
