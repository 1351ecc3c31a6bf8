package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"arena_realtime/server/chat/domain"
	commonlog "arena_realtime/server/common/log"
)

// MediaService stores message attachments in object storage. Image uploads
// get a 320x320 JPEG thumbnail; thumbnail failures are non-fatal since the
// original is already stored.
type MediaService struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewMediaService(client *minio.Client, bucket, publicURL string) *MediaService {
	return &MediaService{client: client, bucket: bucket, publicURL: strings.TrimSuffix(publicURL, "/")}
}

func (s *MediaService) UploadAttachment(ctx context.Context, userID, filename, contentType string, r io.Reader, size int64) (domain.MediaAttachment, error) {
	mediaType := "image"
	if strings.HasPrefix(contentType, "video/") {
		mediaType = "video"
	} else if !strings.HasPrefix(contentType, "image/") {
		return domain.MediaAttachment{}, fmt.Errorf("unsupported content type %q", contentType)
	}

	objectKey := fmt.Sprintf("media/%s/%s%s", userID, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))

	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return domain.MediaAttachment{}, err
	}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return domain.MediaAttachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	attachment := domain.MediaAttachment{
		URL:  s.objectURL(objectKey),
		Type: mediaType,
	}
	if mediaType == "image" {
		if thumbKey, width, height, err := s.makeThumbnail(ctx, objectKey, data); err == nil {
			thumbURL := s.objectURL(thumbKey)
			attachment.ThumbnailURL = &thumbURL
			attachment.Width = &width
			attachment.Height = &height
		} else {
			commonlog.Warnf("event=media action=thumbnail status=failed object_key=%s error=%v", objectKey, err)
		}
	}

	commonlog.Infof("event=media action=upload object_key=%s type=%s size=%d", objectKey, mediaType, len(data))
	return attachment, nil
}

func (s *MediaService) makeThumbnail(ctx context.Context, objectKey string, data []byte) (string, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, err
	}
	bounds := img.Bounds()

	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", 0, 0, err
	}

	ext := filepath.Ext(objectKey)
	thumbKey := strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
	reader := bytes.NewReader(buf.Bytes())
	if _, err := s.client.PutObject(ctx, s.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
		return "", 0, 0, fmt.Errorf("upload thumb: %w", err)
	}
	return thumbKey, bounds.Dx(), bounds.Dy(), nil
}

// PresignDownload returns a short-lived direct download URL for an object.
func (s *MediaService) PresignDownload(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, 15*time.Minute, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MediaService) objectURL(objectKey string) string {
	return s.publicURL + "/" + s.bucket + "/" + objectKey
}
