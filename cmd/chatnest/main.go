package main

import "github.com/joho/godotenv"

func main() {
	// Load .env if present, environment variables stay authoritative
	_ = godotenv.Load()

	Execute()
}
