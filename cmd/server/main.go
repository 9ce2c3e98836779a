package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/server"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	// -issue-token <tenant> prints a signed token and exits.
	if tenant := flagx.StringValue(os.Args[1:], "-issue-token"); tenant != "" {
		token, err := server.IssueToken(cfg, tenant)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app, err := server.NewApp(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
