package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/derWhity/nereid/internal/ctxhelper"
	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// Environment variables overriding values of the configuration file
const (
	EnvListenAddress    = "NEREID_LISTEN_ADDRESS"
	EnvMetadataCacheURI = "NEREID_METADATA_CACHE_URI"
	EnvDataDir          = "NEREID_DATA_DIR"
	EnvAllowedOrigins   = "NEREID_ALLOWED_ORIGINS"
)

var validate = validator.New()

// ConfigService gives access to the application's configuration
type ConfigService interface {
	// Load loads the application config from its default file location
	Load(ctx context.Context) error
	// LoadFromFile loads the configuration from the given JSON file and returns it
	LoadFromFile(ctx context.Context, filename string) error
	// Write writes the current application configuration to the default file name
	Write(ctx context.Context) error
	// WriteToFile writes the current application configuration to a JSON file
	WriteToFile(ctx context.Context, filename string) error
	// GetConfig retuns the current application configuration
	GetConfig(ctx context.Context) models.AppConfig
	// Watch reloads the configuration each time its file changes. It blocks until the context is done
	Watch(ctx context.Context) error
}

// -- ConfigService implementation -------------------------------------------------------------------------------------

type configService struct {
	configFilename string
	mtx            sync.RWMutex
	config         *models.AppConfig
}

// NewConfigService creates a new configuration service instance with the given default file name
func NewConfigService(configFilename string) ConfigService {
	return &configService{configFilename: configFilename}
}

// Load loads the application config from its default file location
func (s *configService) Load(ctx context.Context) error {
	return s.LoadFromFile(ctx, s.configFilename)
}

// LoadFromFile loads the configuration from the given JSON file. Values set in the environment take precedence.
// The configuration is only replaced if the new one is valid
func (s *configService) LoadFromFile(ctx context.Context, filename string) error {
	logger := ctxhelper.Logger(ctx)
	logger.WithField(log.FldFile, filename).Info("Loading configuration file")
	conf, err := models.GetDefaultConfig()
	if err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to create default config")
	}
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "LoadFromFile: cannot load configuration file")
	}
	defer f.Close()
	if err = json.NewDecoder(f).Decode(&conf); err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to decode configuration file")
	}
	applyEnv(conf)
	if err = validate.Struct(conf); err != nil {
		return errors.Wrap(err, "LoadFromFile: Invalid configuration")
	}
	s.mtx.Lock()
	s.config = conf
	s.mtx.Unlock()
	return nil
}

// applyEnv overrides the configuration with the values found in the environment
func applyEnv(conf *models.AppConfig) {
	if v, ok := os.LookupEnv(EnvListenAddress); ok && v != "" {
		conf.ListenAddress = v
	}
	if v, ok := os.LookupEnv(EnvMetadataCacheURI); ok && v != "" {
		conf.MetadataCacheURI = v
	}
	if v, ok := os.LookupEnv(EnvDataDir); ok && v != "" {
		conf.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvAllowedOrigins); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		conf.AllowedOrigins = origins
	}
}

// Write writes the current application configuration to the default file name
func (s *configService) Write(ctx context.Context) error {
	return s.WriteToFile(ctx, s.configFilename)
}

// WriteToFile writes the current application configuration to a JSON file
func (s *configService) WriteToFile(ctx context.Context, filename string) error {
	logger := ctxhelper.Logger(ctx)
	logger.WithField(log.FldFile, filename).Info("Writing configuration file")
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "WriteToFile: Cannot open configuration file '%s' to write to", filename)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	conf := s.GetConfig(ctx)
	if err := enc.Encode(&conf); err != nil {
		return errors.Wrap(err, "WriteToFile: Failed to serialize configuration data")
	}
	return nil
}

// GetConfig retuns the current application configuration
func (s *configService) GetConfig(ctx context.Context) models.AppConfig {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	var ret models.AppConfig
	if s.config != nil {
		ret = *s.config
	} else {
		if tmp, err := models.GetDefaultConfig(); err == nil {
			ret = *tmp
		}
	}
	return ret
}

// Watch reloads the configuration each time its file is written. A file that fails to load is logged and the
// previous configuration is kept
func (s *configService) Watch(ctx context.Context) error {
	logger := ctxhelper.Logger(ctx).WithField(log.FldFile, s.configFilename)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Watch: Failed to create file watcher")
	}
	defer watcher.Close()
	// Editors tend to replace the file instead of writing to it - so the directory is watched
	abs, err := filepath.Abs(s.configFilename)
	if err != nil {
		return errors.Wrap(err, "Watch: Cannot resolve configuration file path")
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrap(err, "Watch: Failed to watch configuration directory")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := s.LoadFromFile(ctx, s.configFilename); err != nil {
				logger.WithError(err).Error("Failed to reload configuration - keeping the current one")
				continue
			}
			logger.Info("Configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Error watching the configuration file")
		}
	}
}
