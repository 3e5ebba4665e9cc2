package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := NewS3Store(fake, "bucket", "run-1")

	if err := s.Put(ctx, "results/j/a.json", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["run-1/results/j/a.json"]; !ok {
		t.Fatalf("object stored under %v, want run-1/results/j/a.json", fake.objects)
	}

	data, err := s.Get(ctx, "results/j/a.json")
	if err != nil || string(data) != "a" {
		t.Fatalf("Get() = %q, %v", data, err)
	}
	keys, err := s.List(ctx, "results/")
	if err != nil || len(keys) != 1 || keys[0] != "results/j/a.json" {
		t.Fatalf("List() = %v, %v", keys, err)
	}

	if err := s.Delete(ctx, "results/j/a.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "results/j/a.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	stores := map[string]BlobStore{
		"local": NewLocalStore(t.TempDir()),
		"s3":    NewS3Store(&fakeS3{objects: map[string][]byte{}}, "bucket", ""),
	}
	for name, s := range stores {
		for _, key := range []string{"", "/abs", "jobs/../../etc/passwd"} {
			if err := s.Put(ctx, key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("%s: Put(%q) = %v, want ErrInvalidKey", name, key, err)
			}
		}
	}
}
