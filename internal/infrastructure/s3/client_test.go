package s3infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-paynotify/internal/domain"
)

type fakeObjects struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func testRecord() *domain.NotificationRecord {
	return &domain.NotificationRecord{
		NotificationID: "01HZX",
		DeviceID:       "dev-1",
		CommerceID:     "com-1",
		ReceivedAt:     time.Date(2026, 5, 4, 23, 59, 0, 0, time.FixedZone("PET", -5*3600)),
	}
}

func TestArchiveKey(t *testing.T) {
	// 23:59 in Lima is already the next day in UTC.
	assert.Equal(t, "raw/com-1/2026-05-05/01HZX.json", ArchiveKey(testRecord()))
}

func TestArchive_PutThenGet(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	a := NewArchive(fake, "audit")
	rec := testRecord()

	uri, err := a.Put(context.Background(), rec, json.RawMessage(`{"body":"hola"}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://audit/raw/com-1/2026-05-05/01HZX.json", uri)

	raw, err := a.Get(context.Background(), rec)
	require.NoError(t, err)

	var got archivedSubmission
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "01HZX", got.NotificationID)
	assert.JSONEq(t, `{"body":"hola"}`, string(got.Request))
}

func TestArchive_PutError(t *testing.T) {
	a := NewArchive(&fakeObjects{putErr: errors.New("boom")}, "audit")
	_, err := a.Put(context.Background(), testRecord(), json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "s3 put object")
}
