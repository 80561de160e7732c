package main

import (
	"fmt"
	"log"
	"os"

	"github.com/syaikhipin/ipinproxy/internal/auth"
)

func main() {
	var apiKey string
	if len(os.Args) >= 2 {
		apiKey = os.Args[1]
	} else {
		generated, err := auth.GenerateAPIKey()
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		apiKey = generated
	}

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", auth.HashAPIKey(apiKey))
	fmt.Println("\nOnly the hash is stored. Hand the key to its user now; it cannot")
	fmt.Println("be recovered later. Keys are normally issued through the admin API")
	fmt.Println("(POST /admin/api/keys), which stores the hash for you.")
}
