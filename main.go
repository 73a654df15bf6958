package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	nereid "github.com/derWhity/nereid/internal"
	"github.com/derWhity/nereid/internal/ctxhelper"
	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/metadata"
	"github.com/derWhity/nereid/internal/migrate"
	"github.com/derWhity/nereid/internal/pricing"
	prefrepo "github.com/derWhity/nereid/internal/repos/preference/sqlite"
	"github.com/derWhity/nereid/internal/section"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/kardianos/osext"
	_ "github.com/mattn/go-sqlite3" // Just needed for the sqlite driver
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

const (
	appName    = "Nereid"
	appVersion = "0.1.0"
	dbFile     = "nereid.db"
	// Timeout for a single call to one of the upstream services
	upstreamTimeout = 30 * time.Second
)

// Checks and tries to create the given directory recursively (or panics if this fails)
func checkAndCreateDir(path string, logger *logrus.Entry) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if e, ok := err.(*os.PathError); ok && e.Err == syscall.ENOENT {
			logger.WithField(log.FldPath, path).Info("Directory does not exist - trying to create...")
			if err = os.MkdirAll(path, os.ModePerm); err != nil {
				logger.WithError(err).Fatal("Failed to create directory")
			}
			logger.Info("Directory created successfully")
		} else {
			logger.WithError(err).Fatal("Stat has failed")
		}
	} else {
		if !fileInfo.IsDir() {
			logger.Fatalf("'%s' is not a directory. Remove the plain file if you want to continue", path)
		}
	}
}

func main() {
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		panic(err)
	}

	configFile := flag.String(
		"config",
		filepath.Join(execDir, "config.json"),
		"The configuration file to load the application's configuration from",
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the logger
	logger := logrus.WithField(log.FldVersion, appVersion)
	logger.Infof("%s version %s is starting up...", appName, appVersion)
	ctx = context.WithValue(ctx, ctxhelper.KeyLogger, logger)

	// Environment overrides may come from a .env file in the working directory
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to read .env file")
	}

	// Load the main configuration file
	cs := nereid.NewConfigService(*configFile)
	if err := cs.Load(ctx); err != nil {
		logger.WithError(err).Error("Cannot load config. Using defaults")
	}
	conf := cs.GetConfig(ctx)

	logger.Infof("Using '%s' as data directory", conf.DataDir)
	checkAndCreateDir(conf.DataDir, logger)

	// Set up the database connection and perform pending migrations
	dbFileName := path.Join(conf.DataDir, dbFile)
	var db *sqlx.DB
	if db, err = sqlx.Open("sqlite3", dbFileName); err != nil {
		logger.WithError(err).Fatal("Failed to open database connection")
	}
	logger.Info("Performing database migrations...")
	if err = migrate.ExecuteMigrationsOnDb(db, logger); err != nil {
		logger.WithError(err).Fatal("Database migration has failed. Please check database for consistency and try again.")
	}

	prefRepo := prefrepo.New(db, logger)

	// Upstream services
	httpClient := &http.Client{Timeout: upstreamTimeout}
	upstreamLogger := logger.WithField(log.FldTransport, "upstream")
	metaClient, err := metadata.NewClient(conf.MetadataCacheURI, httpClient, upstreamLogger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid metadata cache URI")
	}
	subgraph, err := pricing.NewSubgraph(conf.Subgraphs, httpClient, upstreamLogger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid subgraph configuration")
	}
	enricher := pricing.NewEnricher(subgraph, upstreamLogger)

	// Every visitor gets its own set of sections
	sectionLogger := logger.WithField(log.FldTransport, "sections")
	board := section.NewBoard(func(visitorID, name string) *section.Runner {
		c := cs.GetConfig(ctx)
		return section.NewRunner(
			name,
			metaClient,
			enricher,
			section.Options{KeepResultOnError: c.KeepResultOnError},
			sectionLogger.WithField(log.FldVisitor, visitorID),
		)
	}, time.Duration(conf.VisitorExpiry), sectionLogger)

	prefSrv := nereid.NewPreferenceService(prefRepo, cs, logger)
	discSrv := nereid.NewDiscoveryService(board, prefSrv, cs, logger)

	httpLogger := logger.WithField(log.FldTransport, "HTTP")

	h := nereid.MakeHTTPHandler(
		discSrv,
		prefSrv,
		cs,
		httpLogger,
	)

	// Featured categories and the other section settings can change while running
	go func() {
		if err := cs.Watch(ctx); err != nil {
			logger.WithError(err).Warn("Configuration file is not watched for changes")
		}
	}()

	// Start listening
	errs := make(chan error)

	// Listen for stop signals that will end the service
	go func() {
		c := make(chan os.Signal, 2)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		err := fmt.Errorf("%s", <-c)
		logger.Info("Caught signal to stop. Shutting down.")
		cancel()
		logger.Info("Closing all sections...")
		board.Close()
		logger.Info("Sections have been closed")
		errs <- err
	}()

	go func() {
		httpLogger.WithField("addr", conf.ListenAddress).Info("Starting listening port")
		errs <- http.ListenAndServe(conf.ListenAddress, h)
	}()

	// Watchdog for systemd
	go func() {
		interval, err := daemon.SdWatchdogEnabled(false)
		if err != nil || interval == 0 {
			return
		}
		_, port, err := net.SplitHostPort(conf.ListenAddress)
		if err != nil {
			logger.WithError(err).Error("Cannot activate systemd watchdog")
			return
		}
		logger.Info("Activating systemd watchdog goroutine")
		url := fmt.Sprintf("http://127.0.0.1:%s/alive", port)
		for {
			if resp, err := http.Get(url); err == nil {
				resp.Body.Close()
				daemon.SdNotify(false, "WATCHDOG=1")
			}
			time.Sleep(interval / 3)
		}
	}()

	// Notify systemd that we are ready to go (if available)
	daemon.SdNotify(false, "READY=1")

	logger.WithError(<-errs).Error("Shutdown complete")
}
