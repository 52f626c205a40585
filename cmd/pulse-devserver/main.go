package main

import (
	"log"

	"pulse/cmd/internal/app"
)

func main() {
	if err := app.RunDev(); err != nil {
		log.Fatal(err)
	}
}
