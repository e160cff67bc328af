package gcp

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// DriveBackend searches and downloads files from Google Drive.
type DriveBackend struct {
	service  *drive.Service
	pageSize int64
}

// NewDriveBackend creates a read-only Drive client. credentialsFile may be
// empty to use Application Default Credentials.
func NewDriveBackend(ctx context.Context, credentialsFile string) (*DriveBackend, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	return &DriveBackend{service: service, pageSize: 100}, nil
}

// Search finds the first folder named folder and lists the files inside it.
// A missing folder is an empty result, not an error.
func (d *DriveBackend) Search(ctx context.Context, folder string) ([]backend.Item, error) {
	folderQuery := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeDriveQuery(folder), driveFolderMimeType)
	folders, err := d.service.Files.List().Q(folderQuery).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return nil, Classify("drive folder lookup", err)
	}
	if len(folders.Files) == 0 {
		return []backend.Item{}, nil
	}
	folderID := folders.Files[0].Id

	childQuery := fmt.Sprintf("'%s' in parents and mimeType!='%s' and trashed=false", escapeDriveQuery(folderID), driveFolderMimeType)
	var items []backend.Item
	err = d.service.Files.List().
		Q(childQuery).
		PageSize(d.pageSize).
		OrderBy("name").
		Fields("nextPageToken, files(id, name)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				items = append(items, backend.Item{Name: f.Name, ID: f.Id})
			}
			return nil
		})
	if err != nil {
		return nil, Classify("drive list files", err)
	}
	return items, nil
}

// Fetch downloads the content of the file with the given id.
func (d *DriveBackend) Fetch(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, Classify("drive download "+id, err)
	}
	return resp.Body, nil
}

func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
