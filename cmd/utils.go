package cmd

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"datafactory/internal/config"
	"datafactory/internal/storage"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// CreateObjectStore picks the artifact store from config: a local
// directory when LOCAL_STORE_DIR is set, S3 otherwise. The S3 output
// bucket is created if it does not exist yet.
func CreateObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.LocalStoreDir != "" {
		return storage.NewLocalObjectStore(cfg.LocalStoreDir)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		EndpointURL:     cfg.S3EndpointURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
		Bucket:          cfg.OutputRoot,
	})
	if err != nil {
		return nil, err
	}

	if err := store.CreateBucket(ctx); err != nil {
		return nil, err
	}

	return store, nil
}
