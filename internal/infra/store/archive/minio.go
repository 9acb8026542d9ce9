package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/you-humble/musicgen/internal/domain"

	mio "github.com/you-humble/musicgen/core/libs/minio"

	"github.com/minio/minio-go/v7"
)

type minioStore struct {
	db       *minio.Client
	bucket   string
	basePath string
}

// NewMinIOStore keeps terminal task results as <base_path>/<task_id>.json.
func NewMinIOStore(ctx context.Context, cfg mio.Config) (*minioStore, error) {
	mioClient, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &minioStore{
		db:       mioClient,
		bucket:   cfg.Bucket,
		basePath: basePath,
	}, nil
}

func (s *minioStore) Put(ctx context.Context, r domain.TaskResult) error {
	objectName, err := s.objectName(r.TaskID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"task-status": string(r.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *minioStore) Get(ctx context.Context, taskID string) (domain.TaskResult, bool, error) {
	objectName, err := s.objectName(taskID)
	if err != nil {
		return domain.TaskResult{}, false, err
	}

	obj, err := s.db.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return domain.TaskResult{}, false, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	var r domain.TaskResult
	if err := json.NewDecoder(obj).Decode(&r); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == minio.NoSuchKey {
			return domain.TaskResult{}, false, nil
		}
		return domain.TaskResult{}, false, fmt.Errorf("read object: %w", err)
	}
	return r, true, nil
}

func (s *minioStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	opts := minio.ListObjectsOptions{
		Prefix:    s.basePath,
		Recursive: true,
	}

	removed := 0
	for objectInfo := range s.db.ListObjects(ctx, s.bucket, opts) {
		if objectInfo.Err != nil {
			continue
		}
		if !objectInfo.LastModified.Before(cutoff) {
			continue
		}

		err := s.db.RemoveObject(ctx, s.bucket, objectInfo.Key, minio.RemoveObjectOptions{})
		if err != nil {
			return removed, fmt.Errorf("remove old object %s: %w", objectInfo.Key, err)
		}
		removed++
	}

	return removed, nil
}

func (s *minioStore) objectName(taskID string) (string, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", fmt.Errorf("empty task id")
	}

	clean := path.Clean(taskID)
	if strings.HasPrefix(clean, "..") || strings.Contains(clean, "/") {
		return "", fmt.Errorf("invalid task id: %s", taskID)
	}

	return s.basePath + clean + ".json", nil
}
