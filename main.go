package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/404wolf/firefuse/cmd"
	"github.com/joho/godotenv"
)

// loadEnvFile loads FIREFUSE_* settings from .env when there is one
func loadEnvFile() {
	err := godotenv.Load(".env")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}
}

func execute() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func main() {
	loadEnvFile()
	execute()
}
