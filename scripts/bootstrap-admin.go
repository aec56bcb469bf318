// bootstrap-admin creates (or finds) a user by auth subject, grants it the
// super admin role and prints a session token for it. Run with:
//
//	go run scripts/bootstrap-admin.go -subject auth0|123 -email ops@selah.app
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/repository"
)

type output struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Session string `json:"session"`
}

func main() {
	var (
		databaseURL   = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		sessionSecret = flag.String("session-secret", os.Getenv("SESSION_SECRET"), "HMAC key for session tokens")
		subject       = flag.String("subject", "bootstrap-admin", "External auth subject of the admin")
		email         = flag.String("email", "admin@selah.local", "Admin email")
		ttl           = flag.Duration("ttl", 24*time.Hour, "Session token lifetime")
		format        = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" || *sessionSecret == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL and SESSION_SECRET are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	user, err := repo.GetOrCreateUserByAuthID(ctx, *subject, strings.ToLower(*email))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ensure user:", err)
		os.Exit(1)
	}

	user, err = repo.SetUserRole(ctx, user.ID, model.RoleSuperAdmin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grant super admin:", err)
		os.Exit(1)
	}

	sessions, err := auth.NewSessions(*sessionSecret, auth.Issuer, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configure sessions:", err)
		os.Exit(1)
	}
	token, err := sessions.Issue(*subject, user.Email, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue session:", err)
		os.Exit(1)
	}

	out := output{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    string(user.Role),
		Session: token,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Session)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}
