package config

import "github.com/joho/godotenv"

// LoadEnv reads a .env file from the working directory into the process
// environment. Variables that are already set win.
func LoadEnv() error {
	return godotenv.Load()
}
