package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/parcelpulse/appraisal-api/internal/models"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// exportPageSize bounds how many rows one store read pulls while streaming
// a search term into an export document.
const exportPageSize = 1000

// StorageConfig is the S3-compatible object storage target for exports.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// ExportService writes search results to object storage as JSON documents.
type ExportService struct {
	client     *s3.Client
	bucket     string
	properties repository.PropertyRepository
	logger     *slog.Logger
}

// NewExportService creates an export service against an S3-compatible
// endpoint (Tigris, MinIO, or AWS proper).
func NewExportService(ctx context.Context, cfg StorageConfig, properties repository.PropertyRepository, logger *slog.Logger) (*ExportService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ExportService{
		client:     client,
		bucket:     cfg.Bucket,
		properties: properties,
		logger:     logger,
	}, nil
}

// exportDocument is the JSON shape written to storage.
type exportDocument struct {
	SearchTerm string             `json:"search_term"`
	ExportedAt time.Time          `json:"exported_at"`
	Count      int                `json:"count"`
	Properties []*models.Property `json:"properties"`
}

// ExportSearchTerm writes every stored property for the search term to the
// bucket and returns the object key.
func (s *ExportService) ExportSearchTerm(ctx context.Context, searchTerm string) (string, int, error) {
	searchTerm = strings.TrimSpace(searchTerm)
	if searchTerm == "" {
		return "", 0, fmt.Errorf("search term is required")
	}

	var all []*models.Property
	for offset := 0; ; offset += exportPageSize {
		page, err := s.properties.GetBySearchTerm(ctx, searchTerm, exportPageSize, offset)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read properties: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	now := time.Now().UTC()
	doc := exportDocument{
		SearchTerm: searchTerm,
		ExportedAt: now,
		Count:      len(all),
		Properties: all,
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal export: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%s.json",
		strings.ToLower(strings.ReplaceAll(searchTerm, " ", "-")),
		now.Format("20060102-150405"),
	)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload export: %w", err)
	}

	s.logger.Info("search term exported",
		"search_term", searchTerm,
		"key", key,
		"count", len(all),
		"bytes", len(body),
	)
	return key, len(all), nil
}
