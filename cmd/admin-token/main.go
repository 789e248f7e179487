// Command admin-token prints a bearer token for the queue administrator
// routes, signed with ADMIN_JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"livequeue/queue-service/internal/config"
	"livequeue/queue-service/internal/httpapi"
	"livequeue/queue-service/internal/logging"
)

func main() {
	cfg := config.Load()
	subject := flag.String("subject", "admin", "token subject")
	ttl := flag.Duration("ttl", cfg.AdminTokenTTL, "token lifetime")
	flag.Parse()

	logger := logging.New(cfg.LogLevel)
	if cfg.AdminJWTSecret == "" {
		logger.Fatal("ADMIN_JWT_SECRET is not set")
	}

	token, err := httpapi.NewAdminAuth(cfg.AdminJWTSecret, *ttl).IssueToken(*subject)
	if err != nil {
		logger.WithError(err).Fatal("sign token")
	}
	fmt.Fprintln(os.Stdout, token)
	logger.WithField("expires_at", time.Now().Add(*ttl).UTC().Format(time.RFC3339)).Debug("token issued")
}
