package main

import (
	"log"

	"mintbot/services/mintd"
)

func main() {
	if err := mintd.Main(); err != nil {
		log.Fatalf("mintd: %v", err)
	}
}
