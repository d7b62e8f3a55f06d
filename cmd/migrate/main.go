package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ignite/ads-optimizer/internal/store"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, dsn, 5, 2)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer st.Close()
	log.Println("Connected to database")

	if listOnly {
		rows, err := st.DB().QueryContext(ctx,
			"SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename LIKE 'ads_%' ORDER BY tablename")
		if err != nil {
			log.Fatal(err)
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			var t string
			rows.Scan(&t)
			fmt.Println(" ", t)
			n++
		}
		fmt.Printf("Total: %d tables\n", n)
		return
	}

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("Schema is up to date")
}
