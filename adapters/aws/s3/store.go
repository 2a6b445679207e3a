package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/Abraxas-365/chatstream/archive"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store implements archive.Store by writing one JSON object per session
// under a key prefix
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewStore creates a transcript store in the given bucket. Keys are
// "<prefix><session_id>.json".
func NewStore(client *s3.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID + ".json"
}

func (s *Store) Put(ctx context.Context, transcript archive.Transcript) error {
	body, err := json.Marshal(transcript)
	if err != nil {
		return archive.NewArchiveError("Put", transcript.SessionID, err,
			archive.ErrCodeInternal, "failed to marshal transcript")
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(transcript.SessionID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return archive.NewArchiveError("Put", transcript.SessionID, err,
			archive.ErrCodeInternal, "failed to put transcript object")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*archive.Transcript, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, archive.NewArchiveError("Get", sessionID, err,
				archive.ErrCodeNotFound, "transcript not found")
		}
		return nil, archive.NewArchiveError("Get", sessionID, err,
			archive.ErrCodeInternal, "failed to get transcript object")
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, archive.NewArchiveError("Get", sessionID, err,
			archive.ErrCodeInternal, "failed to read transcript object")
	}

	var transcript archive.Transcript
	if err := json.Unmarshal(body, &transcript); err != nil {
		return nil, archive.NewArchiveError("Get", sessionID, err,
			archive.ErrCodeInternal, "failed to unmarshal transcript")
	}
	return &transcript, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}

	var sessionIDs []string

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, archive.NewArchiveError("List", s.prefix, err,
				archive.ErrCodeInternal, "failed to list transcript objects")
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(*obj.Key, s.prefix)
			sessionIDs = append(sessionIDs, strings.TrimSuffix(key, ".json"))
		}
	}
	return sessionIDs, nil
}
