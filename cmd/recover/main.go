package main

import (
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sophia/internal/cli"
)

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	cli.Execute()
}
