package main

import (
	"log"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
