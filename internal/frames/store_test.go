package frames_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/custom-frames/internal/frames"
	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

type fakeConverter struct {
	err   error
	calls int
}

func (c *fakeConverter) Convert(_ context.Context, src, dst string) error {
	c.calls++
	if c.err != nil {
		// leave a partial output behind like a crashed converter would
		_ = os.WriteFile(dst, []byte("partial"), 0644)
		return c.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte("DDS "), data...), 0644)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newStore(t *testing.T, conv frames.Converter, opts ...frames.Option) *frames.Store {
	t.Helper()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]frames.Option{frames.WithClock(c.now)}, opts...)
	store, err := frames.NewStore(t.TempDir(), conv, opts...)
	require.NoError(t, err)
	return store
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

var ownerA = models.Owner{SteamID: "76561198000000001", DisplayName: "alice", ProfileURL: "https://steamcommunity.com/id/alice/"}
var ownerB = models.Owner{SteamID: "76561198000000002", DisplayName: "bob", ProfileURL: "https://steamcommunity.com/id/bob/"}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := frames.NewID()
		require.NoError(t, err)
		assert.Len(t, id, frames.IDLength)
		assert.True(t, frames.ValidID(id), id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestValidID(t *testing.T) {
	assert.True(t, frames.ValidID("abcXYZ0123"))
	assert.False(t, frames.ValidID(""))
	assert.False(t, frames.ValidID("../etc/passwd"))
	assert.False(t, frames.ValidID("abc.png"))
	assert.False(t, frames.ValidID("a-b"))
}

func TestStore_CreateAndList(t *testing.T) {
	conv := &fakeConverter{}
	store := newStore(t, conv)
	ctx := context.Background()

	frame, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)
	assert.Equal(t, 1, conv.calls)
	assert.Len(t, frame.ID, frames.IDLength)

	assert.Equal(t, []string{frame.ID + ".dds", frame.ID + ".json", frame.ID + ".png"}, dirNames(t, store.Dir()))

	list, err := store.List(ctx, frames.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, frame.ID, list[0].ID)
	assert.Equal(t, ownerA.SteamID, list[0].OwnerID)
	assert.Equal(t, ownerA.DisplayName, list[0].OwnerDisplayName)
	assert.Equal(t, ownerA.ProfileURL, list[0].OwnerProfileURL)
	assert.True(t, frame.CreatedAt.Equal(list[0].CreatedAt))
}

func TestStore_MetadataLayout(t *testing.T) {
	store := newStore(t, &fakeConverter{})

	frame, err := store.Create(context.Background(), ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.Dir(), frame.ID+".json"))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, ownerA.SteamID, raw["steamId"])
	assert.Equal(t, ownerA.DisplayName, raw["personaname"])
	assert.Equal(t, ownerA.ProfileURL, raw["profileurl"])
}

func TestStore_ListOrderAndFilter(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	ctx := context.Background()

	first, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)
	second, err := store.Create(ctx, ownerB, testPNG(t, 512, 600))
	require.NoError(t, err)
	third, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	list, err := store.List(ctx, frames.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, third.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, first.ID, list[2].ID)

	mine, err := store.List(ctx, frames.Filter{OwnerID: ownerA.SteamID})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, third.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)
}

func TestStore_ListLegacyMetadata(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	dir := store.Dir()

	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-1 * time.Hour)
	for id, ts := range map[string]time.Time{"legacyOld": older, "legacyNew": newer} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".png"), []byte("png"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".dds"), []byte("dds"), 0644))
		meta := `{"steamId":"1","personaname":"old","profileurl":"https://example.com"}`
		p := filepath.Join(dir, id+".json")
		require.NoError(t, os.WriteFile(p, []byte(meta), 0644))
		require.NoError(t, os.Chtimes(p, ts, ts))
	}

	list, err := store.List(context.Background(), frames.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "legacyNew", list[0].ID)
	assert.Equal(t, "legacyOld", list[1].ID)
	assert.Equal(t, "old", list[0].OwnerDisplayName)
}

func TestStore_ListSkipsIncompleteRecords(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	dir := store.Dir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.json"), []byte(`{"steamId":"1"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.dds"), []byte("dds"), 0644))

	list, err := store.List(context.Background(), frames.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_CreateConversionFailureCleansUp(t *testing.T) {
	conv := &fakeConverter{err: errors.New("convert: no decode delegate")}
	store := newStore(t, conv)

	_, err := store.Create(context.Background(), ownerA, testPNG(t, 512, 600))
	require.Error(t, err)

	var convErr *frames.ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Contains(t, convErr.Error(), "no decode delegate")

	assert.Empty(t, dirNames(t, store.Dir()))

	list, err := store.List(context.Background(), frames.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

type emptyConverter struct{}

func (emptyConverter) Convert(context.Context, string, string) error { return nil }

func TestStore_CreateWithoutConverterOutput(t *testing.T) {
	store := newStore(t, emptyConverter{})

	_, err := store.Create(context.Background(), ownerA, testPNG(t, 512, 600))
	var convErr *frames.ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Empty(t, dirNames(t, store.Dir()))
}

func TestStore_CreateRequiresOwner(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	_, err := store.Create(context.Background(), models.Owner{}, testPNG(t, 512, 600))
	assert.Error(t, err)
}

func TestStore_CreateRetriesOnCollision(t *testing.T) {
	ids := []string{"takenId0000000", "takenId0000000", "freshId0000000"}
	gen := func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	store := newStore(t, &fakeConverter{}, frames.WithIDGenerator(gen))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "takenId0000000.png"), []byte("x"), 0644))

	frame, err := store.Create(context.Background(), ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)
	assert.Equal(t, "freshId0000000", frame.ID)
}

func TestStore_Delete(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	ctx := context.Background()

	frame, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	err = store.Delete(ctx, frame.ID, ownerB.SteamID)
	assert.ErrorIs(t, err, frames.ErrForbidden)
	assert.Len(t, dirNames(t, store.Dir()), 3)

	err = store.Delete(ctx, frame.ID, "")
	assert.ErrorIs(t, err, frames.ErrForbidden)

	require.NoError(t, store.Delete(ctx, frame.ID, ownerA.SteamID))
	assert.Empty(t, dirNames(t, store.Dir()))

	err = store.Delete(ctx, frame.ID, ownerA.SteamID)
	assert.ErrorIs(t, err, frames.ErrNotFound)
}

func TestStore_DeleteReportsPartialRemoval(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	ctx := context.Background()

	frame, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	// a non-empty directory in place of the texture cannot be removed
	dds := filepath.Join(store.Dir(), frame.DDS())
	require.NoError(t, os.Remove(dds))
	require.NoError(t, os.Mkdir(dds, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dds, "stuck"), []byte("x"), 0644))

	err = store.Delete(ctx, frame.ID, ownerA.SteamID)
	require.Error(t, err)

	var partial *frames.PartialDeleteError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, frame.ID, partial.ID)

	list, err := store.List(ctx, frames.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = os.Stat(filepath.Join(store.Dir(), frame.PNG()))
	assert.True(t, os.IsNotExist(err), "source image should still be removed")
	assert.ErrorIs(t, store.Delete(ctx, frame.ID, ownerA.SteamID), frames.ErrNotFound)
}

func TestStore_DeleteInvalidID(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	assert.ErrorIs(t, store.Delete(context.Background(), "../secret", ownerA.SteamID), frames.ErrNotFound)
}

func TestStore_Get(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	ctx := context.Background()

	frame, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	got, err := store.Get(ctx, frame.ID)
	require.NoError(t, err)
	assert.Equal(t, frame.OwnerID, got.OwnerID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, frames.ErrNotFound)
}

func TestStore_AssetPath(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	ctx := context.Background()

	frame, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	for _, name := range []string{frame.PNG(), frame.DDS(), frame.ID + ".json"} {
		p, err := store.AssetPath(name)
		require.NoError(t, err, name)
		assert.Equal(t, filepath.Join(store.Dir(), name), p)
	}

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "hidden.png"), []byte("x"), 0644))

	for _, name := range []string{"hidden.png", frame.ID, frame.ID + ".txt", "../" + frame.PNG(), ""} {
		_, err := store.AssetPath(name)
		assert.ErrorIs(t, err, frames.ErrNotFound, name)
	}
}

func TestNewStore_SweepsTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-abc.dds"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.png"), []byte("x"), 0644))

	_, err := frames.NewStore(dir, &fakeConverter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.png"}, dirNames(t, dir))
}

func TestStore_Preview(t *testing.T) {
	store := newStore(t, &fakeConverter{})
	ctx := context.Background()

	frame, err := store.Create(ctx, ownerA, testPNG(t, 512, 600))
	require.NoError(t, err)

	data, err := store.Preview(ctx, frame.ID, frames.PreviewHeight)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, frames.PreviewHeight, cfg.Height)
	assert.Equal(t, 512*frames.PreviewHeight/600, cfg.Width)

	_, err = store.Preview(ctx, "missing", frames.PreviewHeight)
	assert.ErrorIs(t, err, frames.ErrNotFound)
}
