package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"worksrelay/internal/app"
	"worksrelay/internal/config"
)

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", os.Getenv(config.EnvConfig), "path to config yaml/json (optional; env only when empty)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config (missing file is ignored)")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	gin.SetMode(gin.ReleaseMode)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(context.Background()); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}
