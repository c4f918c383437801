package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// fakeStore implements API over an in-memory map, counting calls.
type fakeStore struct {
	values   map[string]string
	versions map[string]string

	getCalls      int
	describeCalls int

	getErr      error
	describeErr error
}

func (f *fakeStore) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	id := aws.ToString(params.SecretId)
	value, ok := f.values[id]
	if !ok {
		return &secretsmanager.GetSecretValueOutput{}, nil
	}
	return &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(value),
		VersionId:    aws.String(f.versions[id]),
	}, nil
}

func (f *fakeStore) DescribeSecret(_ context.Context, params *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	id := aws.ToString(params.SecretId)
	return &secretsmanager.DescribeSecretOutput{
		VersionIdsToStages: map[string][]string{
			f.versions[id]: {"AWSCURRENT"},
			"old-version":  {"AWSPREVIOUS"},
		},
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCache_Get_CachesValue(t *testing.T) {
	store := &fakeStore{
		values:   map[string]string{"arn:bearer": "hunter2"},
		versions: map[string]string{"arn:bearer": "v1"},
	}
	cache := NewCache(store, testLogger(), nil)

	for range 3 {
		got, err := cache.Get(context.Background(), "arn:bearer")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != "hunter2" {
			t.Errorf("Get() = %q, want %q", got, "hunter2")
		}
	}

	if store.getCalls != 1 {
		t.Errorf("store contacted %d times, want 1", store.getCalls)
	}
}

func TestCache_Get_DistinctIDs(t *testing.T) {
	store := &fakeStore{
		values:   map[string]string{"arn:bearer": "hunter2", "arn:openai": "sk-test"},
		versions: map[string]string{"arn:bearer": "v1", "arn:openai": "v1"},
	}
	cache := NewCache(store, testLogger(), nil)

	bearer, err := cache.Get(context.Background(), "arn:bearer")
	if err != nil {
		t.Fatalf("Get(bearer) error = %v", err)
	}
	key, err := cache.Get(context.Background(), "arn:openai")
	if err != nil {
		t.Fatalf("Get(openai) error = %v", err)
	}

	if bearer != "hunter2" || key != "sk-test" {
		t.Errorf("got (%q, %q), want (hunter2, sk-test)", bearer, key)
	}
	if store.getCalls != 2 {
		t.Errorf("store contacted %d times, want 2", store.getCalls)
	}
}

func TestCache_Get_MissingSecretString(t *testing.T) {
	store := &fakeStore{values: map[string]string{}, versions: map[string]string{}}
	cache := NewCache(store, testLogger(), nil)

	_, err := cache.Get(context.Background(), "arn:unknown")
	if err == nil {
		t.Fatal("Get() expected error for missing SecretString, got nil")
	}
}

func TestCache_Get_StoreError_NotCached(t *testing.T) {
	store := &fakeStore{
		values:   map[string]string{"arn:bearer": "hunter2"},
		versions: map[string]string{"arn:bearer": "v1"},
		getErr:   fmt.Errorf("store unreachable"),
	}
	cache := NewCache(store, testLogger(), nil)

	if _, err := cache.Get(context.Background(), "arn:bearer"); err == nil {
		t.Fatal("Get() expected error, got nil")
	}

	// A failed fetch must not poison the cache; the next call retries.
	store.getErr = nil
	got, err := cache.Get(context.Background(), "arn:bearer")
	if err != nil {
		t.Fatalf("Get() after recovery error = %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Get() = %q, want %q", got, "hunter2")
	}
}

func TestCache_NilClient(t *testing.T) {
	cache := NewCache(nil, testLogger(), nil)

	_, err := cache.Get(context.Background(), "arn:bearer")
	if !errors.Is(err, ErrClientUnavailable) {
		t.Errorf("Get() error = %v, want ErrClientUnavailable", err)
	}

	_, err = cache.GetCurrent(context.Background(), "arn:bearer")
	if !errors.Is(err, ErrClientUnavailable) {
		t.Errorf("GetCurrent() error = %v, want ErrClientUnavailable", err)
	}
}

func TestCache_GetCurrent_RefreshesOnRotation(t *testing.T) {
	store := &fakeStore{
		values:   map[string]string{"arn:bearer": "hunter2"},
		versions: map[string]string{"arn:bearer": "v1"},
	}
	cache := NewCache(store, testLogger(), nil)

	got, err := cache.GetCurrent(context.Background(), "arn:bearer")
	if err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if got != "hunter2" {
		t.Errorf("GetCurrent() = %q, want %q", got, "hunter2")
	}

	// Same version: no refetch.
	if _, err := cache.GetCurrent(context.Background(), "arn:bearer"); err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if store.getCalls != 1 {
		t.Errorf("store value fetched %d times before rotation, want 1", store.getCalls)
	}

	// Rotate: new version id and value.
	store.values["arn:bearer"] = "correct-horse"
	store.versions["arn:bearer"] = "v2"

	got, err = cache.GetCurrent(context.Background(), "arn:bearer")
	if err != nil {
		t.Fatalf("GetCurrent() after rotation error = %v", err)
	}
	if got != "correct-horse" {
		t.Errorf("GetCurrent() after rotation = %q, want %q", got, "correct-horse")
	}
	if store.getCalls != 2 {
		t.Errorf("store value fetched %d times after rotation, want 2", store.getCalls)
	}
}

func TestCache_GetCurrent_DescribeError(t *testing.T) {
	store := &fakeStore{
		values:      map[string]string{"arn:bearer": "hunter2"},
		versions:    map[string]string{"arn:bearer": "v1"},
		describeErr: fmt.Errorf("access denied"),
	}
	cache := NewCache(store, testLogger(), nil)

	// Prime the cache; the first GetCurrent fetches without describing.
	if _, err := cache.GetCurrent(context.Background(), "arn:bearer"); err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}

	if _, err := cache.GetCurrent(context.Background(), "arn:bearer"); err == nil {
		t.Fatal("GetCurrent() expected describe error, got nil")
	}
}

func TestCache_GetCurrent_NoCurrentVersionKeepsCache(t *testing.T) {
	store := &fakeStore{
		values:   map[string]string{"arn:bearer": "hunter2"},
		versions: map[string]string{"arn:bearer": "v1"},
	}
	cache := NewCache(store, testLogger(), nil)

	if _, err := cache.GetCurrent(context.Background(), "arn:bearer"); err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}

	// Store stops reporting a current version; cached value survives.
	store.versions["arn:bearer"] = ""
	got, err := cache.GetCurrent(context.Background(), "arn:bearer")
	if err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if got != "hunter2" {
		t.Errorf("GetCurrent() = %q, want %q", got, "hunter2")
	}
	if store.getCalls != 1 {
		t.Errorf("store value fetched %d times, want 1", store.getCalls)
	}
}
