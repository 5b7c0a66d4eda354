package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/fieldline/gatehouse/pkg/observability"
)

// catalogFile is the serialized form of a catalog source.
type catalogFile struct {
	Permissions []Definition `json:"permissions" yaml:"permissions"`
}

// LoaderConfig configures where catalog definitions come from.
type LoaderConfig struct {
	// Source is empty for the builtin catalog, a filesystem path for a
	// JSON/YAML file, or an s3://bucket/key URL.
	Source string

	// S3 settings used for s3:// sources.
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// LoadCatalog builds the catalog from the configured source. The
// catalog is loaded exactly once at process start and is immutable for
// the process lifetime; reloading requires a restart.
func LoadCatalog(ctx context.Context, cfg LoaderConfig, logger *observability.Logger) (*Catalog, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	if cfg.Source == "" {
		logger.Info("Using builtin permission catalog")
		return BuiltinCatalog(), nil
	}

	var data []byte
	var err error
	var format string

	if strings.HasPrefix(cfg.Source, "s3://") {
		data, err = fetchS3Object(ctx, cfg)
		if err != nil {
			return nil, err
		}
		format = formatForPath(cfg.Source)
	} else {
		data, err = os.ReadFile(cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		format = formatForPath(cfg.Source)
	}

	defs, err := parseDefinitions(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog source %s: %w", cfg.Source, err)
	}

	catalog, err := NewCatalog(defs)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog source %s: %w", cfg.Source, err)
	}

	logger.WithFields(map[string]interface{}{
		"source": cfg.Source,
		"codes":  catalog.Len(),
	}).Info("Permission catalog loaded")
	return catalog, nil
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func parseDefinitions(data []byte, format string) ([]Definition, error) {
	var file catalogFile
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	}
	return file.Permissions, nil
}

// fetchS3Object downloads an s3://bucket/key catalog source.
func fetchS3Object(ctx context.Context, cfg LoaderConfig) ([]byte, error) {
	trimmed := strings.TrimPrefix(cfg.Source, "s3://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 catalog source: %s", cfg.Source)
	}

	var awsConfig aws.Config
	var err error
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog from s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog object: %w", err)
	}
	return data, nil
}

// WatchCatalogFile watches a file-based catalog source and logs when it
// changes on disk. The running catalog is immutable, so a change only
// means operators should schedule a restart; nothing is hot-reloaded.
// The watcher stops when ctx is cancelled.
func WatchCatalogFile(ctx context.Context, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	// Watch the directory rather than the file: editors and config
	// managers typically replace the file, which drops a direct watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "catalog watcher")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					logger.WithFields(map[string]interface{}{
						"source": path,
						"op":     event.Op.String(),
					}).Warn("Catalog source changed on disk; restart to load the new catalog")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Error("Catalog watcher error")
			}
		}
	}()

	logger.WithField("source", path).Info("Watching catalog source for changes")
	return nil
}
