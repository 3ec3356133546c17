package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFile_SetGetDelete(t *testing.T) {
	t.Parallel()

	f, err := NewFile(filepath.Join(t.TempDir(), "toollink"))
	require.NoError(t, err)

	_, ok, err := f.Get(KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.Set(KeyAccessToken, "tok"))
	v, ok, err := f.Get(KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok", v)

	require.NoError(t, f.Set(KeyAccessToken, "tok2"))
	v, _, _ = f.Get(KeyAccessToken)
	require.Equal(t, "tok2", v)

	require.NoError(t, f.Delete(KeyAccessToken))
	require.NoError(t, f.Delete(KeyAccessToken), "second delete must be a no-op")
	_, ok, _ = f.Get(KeyAccessToken)
	require.False(t, ok)

	entries, err := os.ReadDir(f.Dir())
	require.NoError(t, err)
	require.Empty(t, entries, "no temp files may be left behind")
}

func TestFile_InvalidKeys(t *testing.T) {
	t.Parallel()

	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	for _, k := range []string{"", "../x", "a/b", ".hidden"} {
		if err := f.Set(k, "v"); err == nil {
			t.Fatalf("key %q must be rejected", k)
		}
	}
	if _, err := NewFile(""); err == nil {
		t.Fatalf("empty dir must be rejected")
	}
}

func TestFile_WatchSeesOtherWriter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewFile(dir)
	require.NoError(t, err)
	b, err := NewFile(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Set(KeyUser, `{"id":"1"}`))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Key == KeyUser {
				cancel()
				for range events {
				}
				return
			}
		case <-deadline:
			t.Fatalf("no event for %s", KeyUser)
		}
	}
}

func TestMemory_SharedViewsNotifyOthersOnly(t *testing.T) {
	t.Parallel()

	sh := NewShared()
	tabA, tabB := sh.Open(), sh.Open()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evA, _ := tabA.Watch(ctx)
	evB, _ := tabB.Watch(ctx)

	require.NoError(t, tabA.Set(KeyAccessToken, "t"))
	select {
	case ev := <-evB:
		require.Equal(t, KeyAccessToken, ev.Key)
	case <-time.After(time.Second):
		t.Fatalf("tab B must be notified")
	}
	select {
	case ev := <-evA:
		t.Fatalf("writer must not see its own event: %+v", ev)
	default:
	}

	v, ok, _ := tabB.Get(KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "t", v)

	require.NoError(t, tabB.Delete(KeyAccessToken))
	select {
	case ev := <-evA:
		require.Equal(t, KeyAccessToken, ev.Key)
	case <-time.After(time.Second):
		t.Fatalf("tab A must be notified of delete")
	}

	cancel()
	_, open := <-evA
	for open {
		_, open = <-evA
	}
}

func TestTheme(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.Equal(t, ThemeLight, LoadTheme(m))
	require.NoError(t, SaveTheme(m, ThemeDark))
	require.Equal(t, ThemeDark, LoadTheme(m))
	require.Error(t, SaveTheme(m, "sepia"))

	_ = m.Set(KeyTheme, "garbage")
	require.Equal(t, ThemeLight, LoadTheme(m))
}
