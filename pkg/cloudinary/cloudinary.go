package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// AttachmentStore keeps message attachments in a Cloudinary folder.
type AttachmentStore struct {
	api    uploadAPI
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary-backed attachment store.
func New(cfg Config, logger zerolog.Logger) (*AttachmentStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return newAttachmentStore(&cld.Upload, cfg.Folder, logger), nil
}

func newAttachmentStore(client uploadAPI, folder string, logger zerolog.Logger) *AttachmentStore {
	return &AttachmentStore{
		api:    client,
		folder: strings.Trim(folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}
}

// Upload stores the attachment under a public id derived from name and returns its secure URL.
// Names are expected to be unique already; existing assets are never overwritten.
func (s *AttachmentStore) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	publicID := publicIDFor(name)
	if publicID == "" {
		return "", errors.New("attachment name is empty")
	}

	result, err := s.api.Upload(ctx, reader, uploader.UploadParams{
		Folder:         s.folder,
		PublicID:       publicID,
		ResourceType:   "auto",
		Overwrite:      api.Bool(false),
		UniqueFilename: api.Bool(false),
	})
	if err != nil {
		return "", fmt.Errorf("upload attachment %s: %w", publicID, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("upload attachment %s: %s", publicID, result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Int("bytes", result.Bytes).Msg("attachment uploaded to cloudinary")
	return result.SecureURL, nil
}

// publicIDFor drops the extension; Cloudinary appends the detected format itself.
func publicIDFor(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	return strings.Trim(base, "-")
}
