package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medigrant/medigrant/internal/config"
	"github.com/medigrant/medigrant/internal/domain/auditevent"
	"github.com/medigrant/medigrant/internal/domain/grant"
	"github.com/medigrant/medigrant/internal/domain/identity"
	"github.com/medigrant/medigrant/internal/domain/token"
	"github.com/medigrant/medigrant/internal/platform/auth"
	"github.com/medigrant/medigrant/internal/platform/cache"
	"github.com/medigrant/medigrant/internal/platform/crypto"
	"github.com/medigrant/medigrant/internal/platform/db"
	"github.com/medigrant/medigrant/internal/platform/middleware"
	"github.com/medigrant/medigrant/internal/platform/notification"
)

// replayCacheSize bounds the identity-token replay guard. The grant engine
// pins each fingerprint's lifetime to the token acceptance window, so the
// cache only needs to hold tokens issued within that window.
const replayCacheSize = 100_000

// directoryAdapter adapts the identity service to the grant.Directory
// interface, avoiding a dependency from the grant engine on identity
// storage.
type directoryAdapter struct {
	identity *identity.Service
}

func (a *directoryAdapter) SubjectByDigitalID(ctx context.Context, digitalID string) (*grant.Subject, error) {
	p, err := a.identity.GetPatientByDigitalIdentifier(ctx, digitalID)
	if err != nil {
		return nil, err
	}
	return subjectFromPatient(p), nil
}

func (a *directoryAdapter) SubjectByID(ctx context.Context, id uuid.UUID) (*grant.Subject, error) {
	p, err := a.identity.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	return subjectFromPatient(p), nil
}

func (a *directoryAdapter) OrganizationByID(ctx context.Context, id uuid.UUID) (*grant.Organization, error) {
	o, err := a.identity.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	return &grant.Organization{
		ID:       o.ID,
		Name:     o.Name,
		Verified: o.Verified,
	}, nil
}

func (a *directoryAdapter) PractitionerByID(ctx context.Context, id uuid.UUID) (*grant.Practitioner, error) {
	p, err := a.identity.GetPractitioner(ctx, id)
	if err != nil {
		return nil, err
	}
	return &grant.Practitioner{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		LicenseNumber:  p.LicenseNumber,
		Permissions:    p.Permissions,
	}, nil
}

func subjectFromPatient(p *identity.Patient) *grant.Subject {
	return &grant.Subject{
		ID:                p.ID,
		DigitalIdentifier: p.DigitalIdentifier,
		Name:              strings.TrimSpace(p.FirstName + " " + p.LastName),
	}
}

// notifierAdapter delivers grant lifecycle notifications through the
// notification manager, resolving recipient contact details from the
// identity service.
type notifierAdapter struct {
	manager  *notification.Manager
	identity *identity.Service
}

func (n *notifierAdapter) SendAuthorizationRequest(ctx context.Context, subjectID uuid.UUID, g *grant.Grant) error {
	patient, err := n.identity.GetPatient(ctx, subjectID)
	if err != nil {
		return err
	}
	org, err := n.identity.GetOrganization(ctx, g.OrganizationID)
	if err != nil {
		return err
	}

	scopes := make([]string, 0, len(g.Scope))
	for _, s := range g.Scope.GrantedScopes() {
		scopes = append(scopes, string(s))
	}

	data := map[string]string{
		"patient_name": strings.TrimSpace(patient.FirstName + " " + patient.LastName),
		"organization": org.Name,
		"scopes":       strings.Join(scopes, ", "),
		"deadline":     g.ExpiresAt.UTC().Format(time.RFC1123),
	}

	if patient.Email != nil {
		_, err := n.manager.SendFromTemplate(ctx, notification.TemplateAuthorizationRequest, data, *patient.Email)
		return err
	}
	if patient.Phone != nil {
		return n.manager.Send(ctx, &notification.Notification{
			Type:      notification.TypeSMS,
			Recipient: *patient.Phone,
			Body: fmt.Sprintf("%s requested access to your health records. Respond before %s.",
				org.Name, data["deadline"]),
		})
	}
	return fmt.Errorf("patient %s has no contact channel", subjectID)
}

func (n *notifierAdapter) SendDecision(ctx context.Context, practitionerID uuid.UUID, g *grant.Grant, decision grant.Status) error {
	pract, err := n.identity.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return err
	}
	if pract.Email == nil {
		return fmt.Errorf("practitioner %s has no contact email", practitionerID)
	}

	templateID := notification.TemplateGrantDenied
	data := map[string]string{}
	if decision == grant.StatusActive {
		templateID = notification.TemplateGrantApproved
		data["expires_at"] = g.ExpiresAt.UTC().Format(time.RFC1123)
	}

	_, err = n.manager.SendFromTemplate(ctx, templateID, data, *pract.Email)
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "grant-server",
		Short: "Healthcare authorization grant API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the grant API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Token signing
	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid token signing key")
	}
	signer, err := crypto.NewHMACSigner(signingKey, cfg.TokenSigningKeyID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token signer")
	}
	codec := token.NewCodec(signer, logger)

	// PHI field encryption
	var cipher *crypto.FieldCipher
	encKey, err := cfg.EncryptionKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid field encryption key")
	}
	if encKey != nil {
		cipher, err = crypto.NewFieldCipher(encKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create field cipher")
		}
		logger.Info().Msg("PHI field encryption enabled")
	} else {
		logger.Warn().Msg("FIELD_ENCRYPTION_KEY not set; PHI field encryption is disabled")
	}

	// Identity domain
	patientRepo := identity.NewPatientRepoPG(pool)
	practitionerRepo := identity.NewPractitionerRepoPG(pool)
	organizationRepo := identity.NewOrganizationRepoPG(pool)
	identitySvc := identity.NewService(patientRepo, practitionerRepo, organizationRepo, cipher)
	identityHandler := identity.NewHandler(identitySvc)

	// Notifications
	emailSender := &notification.LogEmailSender{Logger: logger}
	smsSender := &notification.LogSMSSender{Logger: logger}
	notifyMgr := notification.NewManager(emailSender, smsSender, notification.NewTemplateEngine())
	notifyHandler := notification.NewHandler(notifyMgr)

	// Grant engine
	auditRepo := auditevent.NewRepoPG(pool)
	grantRepo := grant.NewRepoPG(pool)
	replay := cache.New(replayCacheSize, grant.IdentityTokenTTL)
	grantSvc := grant.NewService(
		grantRepo,
		&directoryAdapter{identity: identitySvc},
		codec,
		&notifierAdapter{manager: notifyMgr, identity: identitySvc},
		auditRepo,
		replay,
		logger,
	)
	grantHandler := grant.NewHandler(grantSvc)
	auditHandler := auditevent.NewHandler(auditRepo)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group: authenticated and rate limited. Health endpoints stay open.
	apiV1 := e.Group("/api/v1")

	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Routes
	identityHandler.RegisterRoutes(apiV1)
	grantHandler.RegisterRoutes(apiV1)
	auditHandler.RegisterRoutes(apiV1)
	notifyHandler.RegisterRoutes(apiV1.Group("", auth.RequireRole("org_admin")))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
