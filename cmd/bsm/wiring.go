package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oldmantran/backlogsmith/internal/config"
	"github.com/oldmantran/backlogsmith/internal/db"
	"github.com/oldmantran/backlogsmith/internal/outbox"
	"github.com/oldmantran/backlogsmith/internal/remote/azdevops"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/gorm"
)

// openDB loads config, opens the staging database, and migrates it.
func openDB(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newRemoteClient builds the Azure DevOps client from config. A PAT in
// the configured env var wins; otherwise OAuth2 client credentials are
// used when configured. Without either, the client is disabled.
func newRemoteClient(cfg *config.Config) *azdevops.Client {
	acfg := azdevops.Config{
		OrgURL:   cfg.Azure.OrgURL,
		Project:  cfg.Azure.Project,
		AreaPath: cfg.Project.AreaPath,
		PAT:      os.Getenv(cfg.Azure.PATEnv),
	}
	if acfg.PAT == "" && cfg.Azure.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: os.Getenv(cfg.Azure.ClientSecretEnv),
			TokenURL:     cfg.Azure.TokenURL,
			Scopes:       []string{"499b84ac-1321-427f-aa17-267ca6975798/.default"},
		}
		acfg.TokenSource = cc.TokenSource(nil)
	}
	return azdevops.New(acfg)
}

// newUploader wires the outbox uploader from config.
func newUploader(cfg *config.Config, store *staging.Store, client *azdevops.Client, cmdOut io.Writer) *outbox.Uploader {
	return outbox.New(store, client, outbox.Options{
		BatchSize:  cfg.Upload.BatchSize,
		ItemDelay:  time.Duration(cfg.Upload.ItemDelayMS) * time.Millisecond,
		BatchDelay: time.Duration(cfg.Upload.BatchDelayMS) * time.Millisecond,
		MaxRetries: cfg.Upload.MaxRetries,
		BaseDelay:  time.Duration(cfg.Upload.BaseDelayMS) * time.Millisecond,
		AreaPath:   cfg.Project.AreaPath,
		Out:        cmdOut,
	})
}

// requireRemote fails fast when no Azure DevOps credentials are available,
// before any staging rows are touched.
func requireRemote(client *azdevops.Client, cfg *config.Config) error {
	if client.Disabled() {
		return fmt.Errorf("azure devops credentials not configured: set %s or azure.client_id (run 'bsm db init' to store one)", cfg.Azure.PATEnv)
	}
	return nil
}
