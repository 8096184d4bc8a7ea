package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/receipt-cashback/internal/application/auth"
	"github.com/jhoicas/receipt-cashback/internal/application/verification"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
	infrafns "github.com/jhoicas/receipt-cashback/internal/infrastructure/fns"
	"github.com/jhoicas/receipt-cashback/internal/infrastructure/memory"
	"github.com/jhoicas/receipt-cashback/internal/infrastructure/postgres"
	infraredis "github.com/jhoicas/receipt-cashback/internal/infrastructure/redis"
	httpRouter "github.com/jhoicas/receipt-cashback/internal/interfaces/http"
	"github.com/jhoicas/receipt-cashback/pkg/config"
	pkgfns "github.com/jhoicas/receipt-cashback/pkg/fns"
	"github.com/jhoicas/receipt-cashback/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("fns_env", cfg.FNS.AppEnv).
		Str("storage", cfg.Storage.Driver).
		Msg("iniciando aplicación")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	loc := cfg.FNS.Location()

	// Ledger: memoria (dev) o PostgreSQL.
	var ledger repository.VerificationLedger
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("esquema del ledger")
		}
		ledger = postgres.NewVerificationLedger(pool, loc)
	default:
		ledger = memory.NewLedger()
	}

	// Caché de resultados: Redis si está configurado.
	var cache verification.ResultCache = verification.NewMemoryResultCache(nil)
	if cfg.Redis.Addr != "" {
		rc := infraredis.NewResultCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis no disponible, se usa caché en memoria")
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	// Cliente de la Autoridad: simulador en dev, SOAP en test/prod.
	var client infrafns.Client
	masterToken := cfg.FNS.MasterToken
	if cfg.FNS.AppEnv == infrafns.AppEnvDev {
		client = infrafns.NewSimulator()
		if masterToken == "" {
			masterToken = "dev-master-token"
		}
	} else {
		client = infrafns.NewSOAPClient(infrafns.SOAPConfig{
			AuthURL:   cfg.FNS.AuthURL,
			AsyncURL:  cfg.FNS.AsyncURL,
			UserToken: cfg.FNS.UserToken,
			Timeout:   cfg.FNS.RequestTimeout,
			MaxBatch:  cfg.FNS.MaxBatch,
			Location:  loc,
		}, &http.Client{}, log.Component("fns-client"))
	}

	tokens := verification.NewTokenCache(client, masterToken, cfg.FNS.TokenSafetyMargin, nil, log.Zerolog())
	coord := verification.NewCoordinator(client, tokens, ledger, cache, verification.Config{
		DailyLimit:       cfg.FNS.DailyLimit,
		MaxPollAttempts:  cfg.FNS.MaxPollAttempts,
		MinPollInterval:  cfg.FNS.MinPollInterval,
		MaxSubmitRetries: cfg.FNS.MaxSubmitRetries,
		ResultTTL:        cfg.FNS.ResultTTL,
		MaxBatch:         cfg.FNS.MaxBatch,
		PendingTimeout:   cfg.FNS.RequestTimeout * time.Duration(cfg.FNS.MaxSubmitRetries+2),
		Location:         loc,
		Policy: pkgfns.AdmissionPolicy{
			Earliest: cfg.FNS.EarliestReceiptDate(),
			Skew:     5 * time.Minute,
		},
	}, log.Zerolog())

	// Punto de integración con el cálculo de cashback.
	coord.OnTerminal(func(_ context.Context, req *entity.VerificationRequest) {
		ev := log.Info().
			Str("request_id", req.ID).
			Str("state", string(req.State)).
			Int64("sum", req.Data.Sum)
		if req.Result != nil {
			ev = ev.Str("reason", string(req.Result.Reason))
		}
		ev.Msg("verificación finalizada")
	})

	poller := verification.NewPoller(coord, cfg.FNS.PollerInterval, 0, log.Zerolog())
	go poller.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.FNS.RequestTimeout*time.Duration(cfg.FNS.MaxSubmitRetries+2) + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Receipt Cashback API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "fns_env": cfg.FNS.AppEnv})
	})

	var authUC *auth.AuthUseCase
	if len(cfg.Auth.Operators) > 0 {
		authUC = auth.NewAuthUseCase(memory.NewOperatorStore(cfg.Auth.Operators), auth.JWTConfig{
			Secret:     cfg.JWT.Secret,
			ExpMinutes: cfg.JWT.Expiration,
			Issuer:     cfg.JWT.Issuer,
		})
	}

	httpRouter.Router(app, httpRouter.RouterDeps{
		Decoder:     pkgfns.NewQRDecoder(loc),
		Coordinator: coord,
		Reporter:    verification.NewReporter(ledger, coord),
		Location:    loc,
		Auth:        authUC,
		JWTSecret:   cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
