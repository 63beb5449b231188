package cmd

import (
	"os"
	"time"

	globalConfig "github.com/flaviokalleu/whaticket/config"
	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/flaviokalleu/whaticket/infrastructure/chatstore"
	"github.com/flaviokalleu/whaticket/infrastructure/database"
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	infraValkey "github.com/flaviokalleu/whaticket/infrastructure/valkey"
	infraWhatsapp "github.com/flaviokalleu/whaticket/infrastructure/whatsapp"
	"github.com/flaviokalleu/whaticket/pkg/ffmpeg"
	"github.com/flaviokalleu/whaticket/pkg/mediaworker"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/flaviokalleu/whaticket/pkg/utils"
	"github.com/flaviokalleu/whaticket/usecase"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Infra
	cacheStore      *mediacache.Store
	recorder        *telemetry.Recorder
	mediaPool       *mediaworker.MediaPool
	audioPool       *mediaworker.AudioPool
	sessionRegistry *infraWhatsapp.SessionRegistry
	valkeyClient    *infraValkey.Client

	// Usecase
	sendMediaUsecase domainSendMedia.ISendMediaUsecase
)

var rootCmd = &cobra.Command{
	Use:   "whaticket",
	Short: "Multi-tenant WhatsApp customer service platform",
	Long:  `Whaticket media pipeline service: processes, caches and dispatches media messages for customer service tickets.`,
}

func init() {
	// Load environment variables first
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cobra.OnInitialize(initApp)
}

func initApp() {
	cfg, err := globalConfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("[APP] Failed to load configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := utils.CreateFolder(cfg.Paths.Storages, cfg.Paths.SendItems, cfg.Paths.Public); err != nil {
		logrus.Fatalf("[APP] Failed to prepare storage directories: %v", err)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[APP] Failed to connect database: %v", err)
	}

	chatRepo, err := chatstore.NewRepository(db)
	if err != nil {
		logrus.Fatalf("[APP] Failed to initialize chat store: %v", err)
	}

	recorder = telemetry.NewRecorder()

	cacheStore, err = mediacache.NewStore(
		cfg.Cache.Dir,
		cfg.Cache.MaxSizeBytes,
		time.Duration(cfg.Cache.SweepInterval)*time.Minute,
		recorder,
	)
	if err != nil {
		logrus.Fatalf("[APP] Failed to initialize media cache: %v", err)
	}

	encoder := ffmpeg.NewEncoder(cfg.Media.FFmpegBin)
	mediaPool, audioPool = mediaworker.InitGlobalPools(cacheStore, recorder, encoder)
	sessionRegistry = infraWhatsapp.NewSessionRegistry()

	if cfg.Database.ValkeyEnabled {
		valkeyClient, err = infraValkey.NewClient(infraValkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.Warnf("[APP] Valkey unavailable, telemetry mirroring disabled: %v", err)
			valkeyClient = nil
		}
	}

	sendMediaUsecase = usecase.NewSendMediaService(
		mediaPool,
		audioPool,
		encoder,
		recorder,
		sessionRegistry,
		chatRepo,
		chatRepo,
		chatRepo,
		telemetry.NewLogReporter(),
		cfg.Paths.Public,
		cfg.Paths.SendItems,
	)

	logrus.Infof("[APP] Whaticket %s initialized (env: %s)", cfg.App.Version, cfg.App.Environment)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of background services.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if cacheStore != nil {
		// Fuerza la persistencia sincrónica del índice antes de salir
		cacheStore.Shutdown()
	}
	if valkeyClient != nil {
		valkeyClient.Close()
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
