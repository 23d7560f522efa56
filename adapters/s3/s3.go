package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxImageSize is the largest item image accepted.
const MaxImageSize = 5 << 20

// ObjectPutter is the part of *s3.Client the operator uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type InvalidImageError struct {
	MIMEType string
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image type: %s", e.MIMEType)
}

type S3Operator struct {
	Client ObjectPutter
	Bucket string
	// PublicEndpoint is where uploaded objects can be fetched from.
	PublicEndpoint *url.URL
}

func NewS3Operator(client ObjectPutter, bucket, publicBaseURL string) (*S3Operator, error) {
	const op = "NewS3Operator"
	if client == nil {
		return nil, fmt.Errorf("[%s] S3 client cannot be nil", op)
	}
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	return &S3Operator{Client: client, Bucket: bucket, PublicEndpoint: publicEndpoint}, nil
}

// UploadFileToS3 stores the content under path and returns its public URL.
func (s *S3Operator) UploadFileToS3(ctx context.Context, path, contentType string, fileContent []byte) (string, error) {
	const op = "UploadFileToS3"
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(fileContent),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload file to S3, err=%w", op, err)
	}
	uri := *s.PublicEndpoint
	uri.Path = "/" + path
	return uri.String(), nil
}

// UploadItemImage reads at most MaxImageSize bytes of an image and stores
// it under the item. Oversized bodies fail with *ReachLimitError and
// anything that is not a plain image with *InvalidImageError.
func (s *S3Operator) UploadItemImage(ctx context.Context, itemID uuid.UUID, body io.Reader) (string, error) {
	file, err := io.ReadAll(NewMaxSizeReader(body, MaxImageSize))
	if err != nil {
		return "", err
	}
	mimeType := http.DetectContentType(file)
	secure, ext := CheckSecureImageAndGetExtension(mimeType)
	if !secure {
		return "", &InvalidImageError{MIMEType: mimeType}
	}
	return s.UploadFileToS3(ctx, fmt.Sprintf("items/%s/%s.%s", itemID, uuid.New(), ext), mimeType, file)
}
