package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/go-cmp/cmp"

	"github.com/lamim/dermaforge/pkg/models"
)

// fakeS3 is an in-memory bucket implementing the calls the backend uses
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3BackendRoundTrip(t *testing.T) {
	client := newFakeS3()
	store := NewStore(NewS3Backend(client, "models", "skin2"), "best.ckpt", "last.ckpt", testLogger())
	ctx := context.Background()

	if cp, err := store.Read(ctx, models.SlotBest); err != nil || cp != nil {
		t.Fatalf("Read() on empty bucket = %v, %v; want nil, nil", cp, err)
	}

	want := fullCheckpoint()
	if err := store.Write(ctx, models.SlotBest, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, ok := client.objects["models/skin2/best.ckpt"]; !ok {
		t.Fatalf("object not stored under prefix, have %v", keys(client.objects))
	}

	got, err := store.Read(ctx, models.SlotBest)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if loc := store.Location(models.SlotBest); loc != "s3://models/skin2/best.ckpt" {
		t.Errorf("Location() = %q", loc)
	}

	if err := store.Remove(ctx, models.SlotBest); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ok, _ := store.Exists(ctx, models.SlotBest); ok {
		t.Error("object still present after Remove")
	}
}

func TestS3BackendPutFailure(t *testing.T) {
	client := newFakeS3()
	client.putErr = awserr.New("AccessDenied", "denied", nil)
	store := NewStore(NewS3Backend(client, "models", ""), "best.ckpt", "last.ckpt", testLogger())

	err := store.Write(context.Background(), models.SlotLast, fullCheckpoint())
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("Write() error = %v, want ErrStorageFailure", err)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
