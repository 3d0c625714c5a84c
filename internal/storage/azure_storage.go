package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/google/uuid"
)

// AzureStorage keeps each upload as one blob in a single container.
type AzureStorage struct {
	client    *azblob.Client
	container string
}

func NewAzureStorage(ctx context.Context, accountName, accountKey, container string) (*AzureStorage, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}
	if container == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	if _, err := client.CreateContainer(ctx, container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("failed to create container %s: %w", container, err)
	}

	return &AzureStorage{client: client, container: container}, nil
}

func (s *AzureStorage) SaveFile(ctx context.Context, r io.Reader, info FileInfo) (string, error) {
	name := uuid.New().String() + extension(info)
	if _, err := s.client.UploadStream(ctx, s.container, name, r, nil); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return name, nil
}

// OpenFile downloads the whole blob so callers can seek.
func (s *AzureStorage) OpenFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

func (s *AzureStorage) DeleteFile(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, name, nil); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
