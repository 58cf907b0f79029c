package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/turnwarden/internal/journal"
)

func sampleEntries() []journal.Entry {
	log := journal.New(clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	log.Append("SESSION_CREATED", journal.Fields{"mode": "blitz"})
	log.Append("GAME_STARTED", nil)
	log.Append("GAME_ENDED", journal.Fields{"reason": "NORMAL"})
	return log.Entries()
}

func TestFileSinkWritesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.txt")
	sink := NewFileSink(path, clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)))

	if err := sink.Archive(context.Background(), "ABCDE", sampleEntries()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"Turnwarden journal - Session ABCDE",
		"Archived: 2024-03-01 13:00:00",
		`#1 12:00:00 SESSION_CREATED {"mode":"blitz"}`,
		"#2 12:00:00 GAME_STARTED\n",
		`#3 12:00:00 GAME_ENDED {"reason":"NORMAL"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestFileSinkAppendsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.txt")
	sink := NewFileSink(path, nil)

	for _, code := range []string{"AAAAA", "BBBBB"} {
		if err := sink.Archive(context.Background(), code, sampleEntries()); err != nil {
			t.Fatalf("archive %s: %v", code, err)
		}
	}
	data, _ := os.ReadFile(path)
	out := string(data)
	if strings.Index(out, "AAAAA") > strings.Index(out, "BBBBB") {
		t.Fatal("sessions should be appended in order")
	}
	if strings.Count(out, "Turnwarden journal") != 2 {
		t.Fatalf("expected two reports:\n%s", out)
	}
}

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) Archive(context.Context, string, []journal.Entry) error {
	s.calls++
	return s.err
}

func TestMultiCallsEverySink(t *testing.T) {
	boom := errors.New("boom")
	a, b := &stubSink{err: boom}, &stubSink{}

	err := Multi{a, b}.Archive(context.Background(), "ABCDE", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatal("a failing sink must not stop the others")
	}
	if err := (Multi{}).Archive(context.Background(), "ABCDE", nil); err != nil {
		t.Fatalf("empty multi: %v", err)
	}
}

func TestRedisSinkRequiresServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisSink(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestRedisSinkRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	sink, err := NewRedisSink(context.Background(), RedisOptions{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sink.Close()

	code := "T" + time.Now().Format("150405")
	if err := sink.Archive(context.Background(), code, sampleEntries()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err := sink.Journal(context.Background(), code)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(got) != 3 || !strings.Contains(string(got[2]), "GAME_ENDED") {
		t.Fatalf("unexpected journal %s", got)
	}
}
