package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/mansoorceksport/paywall/internal/domain"
)

// Prints an operator token for the /v1/debug endpoints, signed with DEBUG_JWT_SECRET.
func main() {
	operator := flag.String("operator", "", "operator name recorded in debug logs")
	roles := flag.String("roles", domain.RoleDebug, "comma separated roles")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("DEBUG_JWT_SECRET")
	if secret == "" {
		log.Fatal("DEBUG_JWT_SECRET is not set")
	}
	if *operator == "" {
		log.Fatal("-operator is required")
	}

	now := time.Now()
	claims := &domain.DebugClaims{
		Operator: *operator,
		Roles:    strings.Split(*roles, ","),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(signed)
}
