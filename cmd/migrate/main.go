package main

import (
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/mubaid99/payments/pkg/config"
)

func main() {
	var (
		command string
		dir     string
		steps   int
	)
	flag.StringVar(&command, "cmd", "up", "Command to run: up, down, steps, version")
	flag.StringVar(&dir, "path", "migrations", "Migrations directory")
	flag.IntVar(&steps, "n", 1, "Number of steps for -cmd=steps (negative rolls back)")
	flag.Parse()

	// 加载配置
	config.Init()

	m, err := migrate.New("file://"+dir, config.Global.DB.URL())
	if err != nil {
		log.Fatalf("Migration init failed: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(steps)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatalf("Read version failed: %v", verr)
		}
		log.Printf("Migration version: %d (dirty=%v)", v, dirty)
		return
	default:
		log.Fatalf("Unknown command: %s", command)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
	log.Printf("Migration %s done", command)
}
