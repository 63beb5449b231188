package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	globalConfig "github.com/flaviokalleu/whaticket/config"
	infraValkey "github.com/flaviokalleu/whaticket/infrastructure/valkey"
	"github.com/flaviokalleu/whaticket/pkg/mediaworker"
	"github.com/flaviokalleu/whaticket/ui/rest"
	"github.com/flaviokalleu/whaticket/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the media pipeline API over http",
	Run:   restServer,
}

func init() {
	restCmd.Flags().String("basic-auth", "", "Basic auth for API (format: user:pass,user2:pass2)")
	restCmd.Flags().String("port", "", "Port to listen on (overrides APP_PORT)")
	restCmd.Flags().Bool("debug", false, "Enable debug logging")

	// Los flags entran por viper, así LoadConfig los resuelve con la misma
	// precedencia que las variables de entorno y el .env
	_ = viper.BindPFlag("app_basic_auth", restCmd.Flags().Lookup("basic-auth"))
	_ = viper.BindPFlag("app_port", restCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("app_debug", restCmd.Flags().Lookup("debug"))

	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               int(globalConfig.Global.Media.MaxVideoSize),
		Network:                 "tcp",
		AppName:                 "Whaticket Media Engine",
		DisableStartupMessage:   false,
		ServerHeader:            "Hidden",
	}

	if len(globalConfig.Global.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = globalConfig.Global.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())

	origins := strings.Join(globalConfig.Global.App.CorsAllowedOrigins, ", ")
	if !strings.Contains(origins, globalConfig.Global.App.BaseUrl) {
		origins += ", " + globalConfig.Global.App.BaseUrl
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())

	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if globalConfig.Global.App.Debug {
		app.Use(logger.New())
	}

	if len(globalConfig.Global.App.BasicAuth) > 0 {
		account := make(map[string]string)
		for _, auth := range globalConfig.Global.App.BasicAuth {
			ba := strings.Split(auth, ":")
			if len(ba) != 2 {
				logrus.Fatalln("Basic auth is not valid, please use the format <user>:<secret>")
			}
			account[ba[0]] = ba[1]
		}
		app.Use(basicauth.New(basicauth.Config{Users: account}))
	}

	api := app.Group(globalConfig.Global.App.BasePath)

	var healthPinger rest.HealthPinger
	if valkeyClient != nil {
		healthPinger = valkeyClient
	}
	rest.InitRestHealth(api, globalConfig.Global.App.Version, healthPinger)

	rest.InitRestSend(api, sendMediaUsecase, globalConfig.Global.Paths.SendItems)
	rest.InitRestCache(api, cacheStore)
	rest.InitRestMonitoring(api, recorder, mediaPool, audioPool)

	// Tareas periódicas: reconciliación de huérfanos, poda de métricas,
	// espejo de telemetría y el log de estado del pipeline
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cacheStore.Start(ctx)
	recorder.Start(ctx)
	if valkeyClient != nil {
		infraValkey.NewTelemetryPublisher(valkeyClient, recorder, time.Minute).Start(ctx)
	}
	go statusLogLoop(ctx)

	// Graceful shutdown: el índice del cache se persiste antes de salir
	shutdownDone := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logrus.Info("[APP] Shutdown signal received")
		cancel()
		StopApp()
		_ = app.Shutdown()
		close(shutdownDone)
	}()

	if err := app.Listen(":" + globalConfig.Global.App.Port); err != nil {
		logrus.Fatalf("[APP] Server stopped: %v", err)
	}
	<-shutdownDone
}

// statusLogLoop emite un resumen operativo periódico: ocupación de pools,
// profundidad de colas, tamaño del cache y hit rate.
func statusLogLoop(ctx context.Context) {
	interval := time.Duration(globalConfig.Global.Cache.StatusInterval) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			poolStats := mediaworker.GetGlobalStats()
			mediaStats := poolStats["media"]
			audioStats := poolStats["audio"]
			cacheStats := cacheStore.GetStats()

			logrus.WithFields(logrus.Fields{
				"media_active": mediaStats.Active,
				"media_queued": mediaStats.QueueDepth,
				"audio_active": audioStats.Active,
				"audio_queued": audioStats.QueueDepth,
				"cache_size":   cacheStats.HumanSize,
				"cache_items":  cacheStats.Entries,
				"hit_rate":     recorder.GetCacheStats().HitRate,
			}).Info("[STATUS] Media pipeline")
		case <-ctx.Done():
			return
		}
	}
}
