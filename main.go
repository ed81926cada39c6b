package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.SetFlags(0)

	args, err := getArgs()
	if err != nil {
		log.Fatal(err)
	}

	config, err := loadConfig(args.ConfigFile)
	if err != nil {
		log.Fatalf("configuration problem: %s", err)
	}

	server, err := newServer(config)
	if err != nil {
		log.Fatal(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("received %s, shutting down", sig)
		server.newEvent(Event{Type: ShutdownRequestEvent})
	}()

	if err := server.start(); err != nil {
		log.Fatal(err)
	}

	log.Printf("server shutdown cleanly")
}
