package main

import (
	"log"
	"os"

	"github.com/Angelishere/Major-Project-Perceiva/internal/cli"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	if err := cli.Execute(); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}
