package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"lms-realtime/app"
	"lms-realtime/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("[APP] API: %s", conf.APIURL)
	log.Printf("[APP] Push: %s", conf.SocketURL)

	a, err := app.New(conf)
	if err != nil {
		log.Fatalf("Failed to initialize client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cli := newCommandLine(a, os.Stdin, os.Stdout, stdinFD())

	resumed, err := a.Start(ctx)
	if err != nil {
		log.Printf("[APP] Some data could not be loaded: %v", err)
	}
	if resumed {
		cli.printWelcome()
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"client": func(ctx context.Context) error {
				log.Println("[APP] Shutting down...")
				cancel()
				return a.Close()
			},
		},
	)

	go func() {
		if !resumed {
			if err := cli.login(ctx); err != nil {
				log.Printf("[APP] Login aborted: %v", err)
			}
		}
		if err := cli.loop(ctx); err != nil {
			log.Printf("[APP] Input closed: %v", err)
		}
		// input gone: shut down the same way a signal would
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			p.Signal(os.Interrupt)
		}
	}()

	exitCode := <-wait
	os.Exit(exitCode)
}
