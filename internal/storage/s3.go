package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"bomflow/internal/config"
	"bomflow/internal/util"
)

const scheme = "s3://"

// ErrInvalidURI s3 地址格式错误
var ErrInvalidURI = errors.New("invalid s3 uri")

// IsS3URI 判断是否为 s3://bucket/key 形式
func IsS3URI(p string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(p)), scheme)
}

// ParseURI 拆分 s3://bucket/key
func ParseURI(uri string) (bucket, key string, err error) {
	uri = strings.TrimSpace(uri)
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	rest := uri[len(scheme):]
	bucket, key, ok := strings.Cut(rest, "/")
	key = strings.TrimLeft(key, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// Source 输入文件来源：本地路径原样返回，s3 地址下载到本地临时目录
type Source struct {
	client *s3.Client
	logger *zap.Logger
}

// NewSource 创建 S3 来源（兼容 MinIO：自定义 endpoint + path-style）
func NewSource(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Source{client: client, logger: logger}, nil
}

// Fetch 返回可读取的本地路径；s3 对象下载到 dir 下并保留原文件名（扩展名决定解析方式）
func (s *Source) Fetch(ctx context.Context, p, dir string) (string, error) {
	if !IsS3URI(p) {
		return p, nil
	}
	if s == nil || s.client == nil {
		return "", fmt.Errorf("s3 storage not configured for %s", p)
	}
	bucket, key, err := ParseURI(p)
	if err != nil {
		return "", err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", p, err)
	}
	defer out.Body.Close()

	local := filepath.Join(dir, path.Base(key))
	if err := util.WriteFileAtomic(local, func(w io.Writer) error {
		_, err := io.Copy(w, out.Body)
		return err
	}); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", p, err)
	}
	s.logger.Debug("fetched s3 object",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("local", local),
	)
	return local, nil
}

// Put 上传本地文件到 s3 地址
func (s *Source) Put(ctx context.Context, localPath, uri string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("s3 storage not configured for %s", uri)
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("failed to put %s: %w", uri, err)
	}
	s.logger.Info("uploaded output", zap.String("uri", uri))
	return nil
}
