package runlog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a buffer shared with the console handler.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFileName(t *testing.T) {
	start := time.Date(2024, 6, 11, 7, 5, 9, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "run-20240611T050509Z.log", FileName(start))
}

func TestLogMirrorsFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	console := &syncBuffer{}

	l, err := Open(dir+"/logs", time.Now(), console)
	require.NoError(t, err)

	ref := Ref{Region: "Hof/Heindlacker.shp", Date: "2024-06-03", Scene: "S2A_1"}
	l.Fetched(ref, 3, 2*time.Second)
	l.Skipped(Ref{Region: "Hof/Heindlacker.shp", Date: "2024-06-05", Scene: "S2A_2"})
	l.Failed(Ref{Region: "Hof/Other.shp", Date: "2024-06-03"}, errors.New("status 500"))
	l.RegionFailed("Hof/Broken.shp", errors.New("contains 2 features, expected 1"))
	l.NoScenes("Hof/Empty.shp")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	file := string(data)

	assert.Equal(t, file, console.String(), "both sinks must receive identical lines")
	lines := strings.Split(strings.TrimSpace(file), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], `msg=fetched`)
	assert.Contains(t, lines[0], `files=3`)
	assert.Contains(t, lines[1], `msg="already exists"`)
	assert.Contains(t, lines[2], `level=ERROR`)
	assert.Contains(t, lines[2], `error="status 500"`)
	assert.Contains(t, lines[3], `msg="region failed"`)
	assert.Contains(t, lines[4], `msg="no scenes"`)
}

func TestCountsAndEntries(t *testing.T) {
	l, err := Open(t.TempDir(), time.Now(), nil)
	require.NoError(t, err)
	defer l.Close()

	l.Fetched(Ref{Region: "a"}, 1, 0)
	l.Fetched(Ref{Region: "b"}, 1, 0)
	l.Failed(Ref{Region: "c"}, errors.New("x"))

	assert.Equal(t, 2, l.Count(Fetched))
	assert.Equal(t, map[Outcome]int{Fetched: 2, Failed: 1}, l.Counts())

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[2].Region)
	assert.EqualError(t, entries[2].Err, "x")
	assert.False(t, entries[0].Time.IsZero())
}

func TestConcurrentWritesAreLineAtomic(t *testing.T) {
	l, err := Open(t.TempDir(), time.Now(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Fetched(Ref{Region: fmt.Sprintf("region-%02d", i), Date: "2024-06-03"}, 12, time.Millisecond)
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "time="), line)
		assert.Contains(t, line, "files=12")
	}
}

func TestCloseIdempotent(t *testing.T) {
	l, err := Open(t.TempDir(), time.Now(), nil)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.NoScenes("late")
	assert.Equal(t, 1, l.Count(NoScenes))
}
