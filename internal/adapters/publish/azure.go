package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzurePublisher implements ArtifactPublisher for Azure Blob Storage.
type AzurePublisher struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName      string
	AccountKey       string
	ConnectionString string
	Container        string
	Prefix           string
}

// NewAzurePublisher creates a new Azure Blob Storage publisher.
func NewAzurePublisher(cfg AzureConfig) (*AzurePublisher, error) {
	var client *azblob.Client
	var err error

	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating client from connection string: %w", err)
		}
	} else if cfg.AccountName != "" && cfg.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("creating shared key credential: %w", credErr)
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating client with shared key: %w", err)
		}
	} else {
		return nil, fmt.Errorf("azure publish requires either connection_string or account_name and account_key")
	}

	return &AzurePublisher{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

// Publish uploads a local artifact under the given object key.
func (p *AzurePublisher) Publish(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath) //#nosec G304 -- path comes from the scratch root
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = p.client.UploadFile(ctx, p.container, p.fullKey(key), f, nil)
	return err
}

// fullKey returns the full blob name including prefix.
func (p *AzurePublisher) fullKey(key string) string {
	if p.prefix == "" {
		return key
	}
	return p.prefix + "/" + key
}
