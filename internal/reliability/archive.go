// Package reliability provides data-protection services: compressed
// off-site archives of the data directory and scheduled SQLite maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/config"
)

// archivePrefix is where archives live inside the bucket.
const archivePrefix = "archives/"

// objectStore is the subset of the S3 API the rotation pass needs.
type objectStore interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// archiveUploader is the subset of the transfer manager the upload needs.
type archiveUploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArchiveService compresses the data directory into a tar.gz and uploads it
// to S3-compatible object storage (AWS S3, Cloudflare R2, MinIO). Old
// archives beyond the retention count are deleted after each successful
// upload.
type ArchiveService struct {
	store    objectStore
	uploader archiveUploader
	bucket   string
	keep     int
	dataDir  string
	log      zerolog.Logger
}

// ArchiveReport describes one completed archive upload.
type ArchiveReport struct {
	Key       string   `json:"key"`
	SizeBytes int64    `json:"sizeBytes"`
	Files     int      `json:"files"`
	Pruned    []string `json:"pruned,omitempty"`
}

// NewArchiveService creates an archive service from connection settings.
// Callers gate on cfg.Configured(); the constructor re-checks so a
// misconfigured service fails at startup instead of at 4am on Sunday.
func NewArchiveService(cfg *config.ArchiveConfig, dataDir string, log zerolog.Logger) (*ArchiveService, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("archive storage is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// R2 and MinIO endpoints route by path, not virtual host.
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ArchiveService{
		store:    client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		keep:     cfg.Keep,
		dataDir:  dataDir,
		log:      log.With().Str("component", "archive").Logger(),
	}, nil
}

// ArchiveNow builds a tar.gz of the data directory, uploads it, and prunes
// archives beyond the retention count. The tarball is staged in a temp file
// so a failed upload never leaves partial objects behind.
func (s *ArchiveService) ArchiveNow(ctx context.Context) (*ArchiveReport, error) {
	start := time.Now()
	key := fmt.Sprintf("%sdca-backtest-%s.tar.gz", archivePrefix, start.UTC().Format("20060102-150405"))

	tmp, err := os.CreateTemp("", "dca-archive-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	files, err := buildArchive(s.dataDir, tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to build archive: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind archive temp file: %w", err)
	}

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        tmp,
		ContentType: aws.String("application/gzip"),
	}); err != nil {
		return nil, fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	pruned, err := s.rotate(ctx)
	if err != nil {
		// The upload itself succeeded; report rotation trouble without
		// failing the archive.
		s.log.Error().Err(err).Msg("Archive rotation failed")
	}

	report := &ArchiveReport{
		Key:       key,
		SizeBytes: info.Size(),
		Files:     files,
		Pruned:    pruned,
	}
	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Int("files", files).
		Int("pruned", len(pruned)).
		Dur("duration", time.Since(start)).
		Msg("Archive uploaded")
	return report, nil
}

// rotate deletes archives beyond the newest keep and returns the deleted
// keys.
func (s *ArchiveService) rotate(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.store, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(archivePrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archives: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	stale := staleArchives(keys, s.keep)
	for _, key := range stale {
		if _, err := s.store.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return nil, fmt.Errorf("failed to delete stale archive %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Msg("Deleted stale archive")
	}
	return stale, nil
}

// staleArchives returns the keys to delete so that only the newest keep
// remain. Keys embed a UTC timestamp, so lexicographic order is
// chronological order.
func staleArchives(keys []string, keep int) []string {
	if keep < 1 || len(keys) <= keep {
		return nil
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	return sorted[keep:]
}

// buildArchive writes a tar.gz of every regular file under root to w and
// returns the file count. SQLite sidecar files (-wal, -shm) are transient
// and excluded; maintenance checkpoints the WAL before the archive job runs.
func buildArchive(root string, w io.Writer) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	files := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		if skipArchiveEntry(name) {
			return nil
		}

		if err := addArchiveEntry(tw, path, name, info); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	return files, nil
}

// skipArchiveEntry reports whether a relative path is excluded from
// archives: SQLite sidecars, temp files, and dotfiles.
func skipArchiveEntry(name string) bool {
	if strings.HasSuffix(name, "-wal") || strings.HasSuffix(name, "-shm") {
		return true
	}
	if strings.HasSuffix(name, ".tmp") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// addArchiveEntry streams one file into the tar writer.
func addArchiveEntry(tw *tar.Writer, src, name string, info os.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", name, err)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to copy %s into archive: %w", name, err)
	}
	return nil
}
