package config

import "github.com/joho/godotenv"

var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads the first readable .env file. Existing process environment
// variables are not overwritten. Returns the loaded path or "".
func loadEnvFiles() string {
	for _, path := range envFiles {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}
