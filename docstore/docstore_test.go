package docstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sales-engine/docstore"
	"github.com/warp/sales-engine/sales"
)

func TestObjectKey_StripsDirectories(t *testing.T) {
	tests := []struct {
		filename string
		suffix   string
	}{
		{"transfer.pdf", "_transfer.pdf"},
		{"../../etc/passwd", "_passwd"},
		{`C:\scans\receipt.png`, "_receipt.png"},
		{"", "_receipt"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			key := docstore.ObjectKey(sales.DocumentMeta{SaleID: "sale-1", PaymentID: "pay-1", Filename: tt.filename})
			assert.True(t, strings.HasPrefix(key, "sale-1/pay-1/"), key)
			assert.True(t, strings.HasSuffix(key, tt.suffix), key)
			assert.NotContains(t, key, "..")
		})
	}
}

func TestLocal_StoreWritesFile(t *testing.T) {
	// GIVEN: A local store rooted in a temp dir
	// WHEN: Storing a receipt
	// THEN: The returned ref resolves to a file with the same bytes

	dir := t.TempDir()
	store, err := docstore.NewLocal(dir)
	require.NoError(t, err)

	data := []byte("%PDF-1.4 receipt")
	ref, err := store.Store(context.Background(), data, sales.DocumentMeta{
		SaleID: "sale-1", PaymentID: "pay-1", Filename: "transfer.pdf", ContentType: "application/pdf",
	})
	require.NoError(t, err)

	got, err := os.ReadFile(store.Path(ref))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, strings.HasPrefix(store.Path(ref), dir))
}

func TestLocal_StoreHonorsCancelledContext(t *testing.T) {
	store, err := docstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Store(ctx, []byte("x"), sales.DocumentMeta{SaleID: "s", PaymentID: "p", Filename: "a.pdf"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal_CleanupRemovesStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := docstore.NewLocal(dir)
	require.NoError(t, err)

	stale := filepath.Join(dir, "left.pdf.tmp")
	kept := filepath.Join(dir, "kept.pdf")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, store.CleanupOlderThan(time.Hour))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(kept)
	assert.NoError(t, err)
}

func TestS3_Store(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	store, err := docstore.NewS3(ctx, docstore.S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("MINIO_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:          "sales-engine-test",
		Prefix:          "receipts/",
	})
	require.NoError(t, err)

	ref, err := store.Store(ctx, []byte("receipt"), sales.DocumentMeta{SaleID: "s", PaymentID: "p", Filename: "a.pdf"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(ref), "receipts/s/p/"))

	url, err := store.PresignedURL(ctx, ref, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}
