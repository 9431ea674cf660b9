package main

import (
	"log"

	"randhub/services/hubd"
)

func main() {
	if err := hubd.Main(); err != nil {
		log.Fatalf("hubd: %v", err)
	}
}
