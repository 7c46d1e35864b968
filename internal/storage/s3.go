package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/latticehq/lattice/backend/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// excerptRunes bounds how much of a source document is quoted back in
// search responses.
const excerptRunes = 480

func NewS3Client(ctx context.Context) *s3.Client {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

// DocumentKey is where extraction workers look for the plain-text body of
// a project document.
func DocumentKey(projectID int64, documentID string) string {
	return fmt.Sprintf("projects/%d/documents/%s.txt", projectID, documentID)
}

func GetDocumentText(ctx context.Context, client *s3.Client, key string) (string, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get document from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return "", fmt.Errorf("failed to read document body: %w", err)
	}

	return buf.String(), nil
}

func PutDocumentText(ctx context.Context, client *s3.Client, key string, text string) error {
	bucket := util.GetEnv("AWS_BUCKET")
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload document to S3: %w", err)
	}
	return nil
}

func DeleteDocument(ctx context.Context, client *s3.Client, key string) error {
	bucket := util.GetEnv("AWS_BUCKET")
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document from S3: %w", err)
	}
	return nil
}

// DocumentExcerpt fetches the opening portion of a source document so
// search responses can quote the material behind an answer. A missing
// object is not an error; callers get an empty excerpt.
func DocumentExcerpt(ctx context.Context, client *s3.Client, projectID int64, documentID string) string {
	if client == nil {
		return ""
	}
	text, err := GetDocumentText(ctx, client, DocumentKey(projectID, documentID))
	if err != nil {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > excerptRunes {
		runes = runes[:excerptRunes]
	}
	return string(runes)
}
