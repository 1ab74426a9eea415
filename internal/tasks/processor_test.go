package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio/imagestore/internal/maintenance"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/queue"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
)

type fakeDeriver struct {
	got []models.StoredAsset
	err error
}

func (f *fakeDeriver) DeriveAll(_ context.Context, stored models.StoredAsset) ([]models.Derivative, error) {
	f.got = append(f.got, stored)
	return nil, f.err
}

type fakeSweeper struct {
	runs int
}

func (f *fakeSweeper) Run(context.Context) (maintenance.Report, error) {
	f.runs++
	return maintenance.Report{}, nil
}

func message(task queue.Task) redis.XMessage {
	values := map[string]any{}
	for k, v := range task.Values() {
		values[k] = v
	}
	return redis.XMessage{ID: "1-0", Values: values}
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewLocalStoreFs(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"), "/data", "thumbnails")
	require.NoError(t, err)
	return s
}

func TestHandleDerive(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.Write(ctx, "a.png", []byte("png"), "image/png")
	require.NoError(t, err)

	deriver := &fakeDeriver{}
	p := NewProcessor(store, deriver, nil, zerolog.Nop())

	require.NoError(t, p.Handle(ctx, message(queue.NewTask(queue.TaskDerive, "a.png"))))
	require.Len(t, deriver.got, 1)
	assert.Equal(t, "a.png", deriver.got[0].Path)
	assert.Equal(t, int64(3), deriver.got[0].SizeBytes)
}

func TestHandleDeriveMissingOriginalIsAcked(t *testing.T) {
	deriver := &fakeDeriver{}
	p := NewProcessor(newStore(t), deriver, nil, zerolog.Nop())

	assert.NoError(t, p.Handle(context.Background(), message(queue.NewTask(queue.TaskDerive, "gone.png"))))
	assert.Empty(t, deriver.got)
}

func TestHandleDeriveRetriesStorageFailures(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.Write(ctx, "a.png", []byte("png"), "image/png")
	require.NoError(t, err)

	writeErr := &thumbnail.DerivativeError{Spec: "SMALL", Stage: thumbnail.StageWrite, Err: errors.New("disk full")}
	p := NewProcessor(store, &fakeDeriver{err: writeErr}, nil, zerolog.Nop())
	assert.Error(t, p.Handle(ctx, message(queue.NewTask(queue.TaskDerive, "a.png"))))

	decodeErr := &thumbnail.DerivativeError{Spec: "SMALL", Stage: thumbnail.StageDecode, Err: errors.New("garbage")}
	p = NewProcessor(store, &fakeDeriver{err: decodeErr}, nil, zerolog.Nop())
	assert.NoError(t, p.Handle(ctx, message(queue.NewTask(queue.TaskDerive, "a.png"))))
}

func TestHandleSweepAndUnknown(t *testing.T) {
	sweeper := &fakeSweeper{}
	p := NewProcessor(newStore(t), &fakeDeriver{}, sweeper, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), message(queue.NewTask(queue.TaskSweep, ""))))
	assert.Equal(t, 1, sweeper.runs)

	assert.NoError(t, p.Handle(context.Background(), message(queue.NewTask("nsfw", ""))))
	assert.NoError(t, p.Handle(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]any{}}))
}
