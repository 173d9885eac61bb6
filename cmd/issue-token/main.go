package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		role   string
		userID int
		name   string
	)
	flag.StringVar(&role, "role", "student", "Token type: student or instructor")
	flag.IntVar(&userID, "id", 0, "User ID carried in the token")
	flag.StringVar(&name, "name", "", "Display name carried in the token")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	var tokenType service.TokenType
	switch strings.ToLower(role) {
	case "student":
		tokenType = service.TokenTypeStudent
	case "instructor":
		tokenType = service.TokenTypeInstructor
	default:
		log.Fatal().Str("role", role).Msg("Unknown role")
	}
	if userID <= 0 {
		log.Fatal().Msg("-id must be a positive integer")
	}

	authService := service.NewAuthService(cfg)
	token, err := authService.GenerateToken(tokenType, userID, strings.TrimSpace(name))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	// Piped output gets the bare token.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(token)
		return
	}

	fmt.Println("=== Issued Token ===")
	fmt.Printf("Role:    %s\n", tokenType)
	fmt.Printf("User ID: %d\n", userID)
	fmt.Printf("Expires: in %s\n", cfg.JWTExpiry)
	fmt.Println()
	fmt.Println(token)
}
