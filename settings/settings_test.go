package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/caasmo/certherd/kv/goredis"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Errorf("failed to close redis client: %v", err)
		}
	})
	return New(goredis.NewFromClient(rdb), "test"), mr
}

func TestPrefix(t *testing.T) {
	t.Parallel()
	if got := Prefix("prod"); got != "prod:certs:" {
		t.Errorf("Prefix = %q, want %q", got, "prod:certs:")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	err := s.Set(ctx, map[string]any{
		"str":   "hello",
		"bytes": []byte{0x00, 0x01, 0xff},
		"null":  nil,
		"when":  created,
		"nested": map[string]any{
			"token": "TKN",
			"secret": map[string]any{
				"value": "abc.def",
			},
		},
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var str string
	ok, err := s.Get(ctx, "str", &str)
	if err != nil || !ok {
		t.Fatalf("Get(str): ok=%v err=%v", ok, err)
	}
	if str != "hello" {
		t.Errorf("str = %q, want %q", str, "hello")
	}

	var bs []byte
	ok, err = s.Get(ctx, "bytes", &bs)
	if err != nil || !ok {
		t.Fatalf("Get(bytes): ok=%v err=%v", ok, err)
	}
	if len(bs) != 3 || bs[0] != 0x00 || bs[1] != 0x01 || bs[2] != 0xff {
		t.Errorf("bytes = %v, want [0 1 255]", bs)
	}

	var null any = "sentinel"
	ok, err = s.Get(ctx, "null", &null)
	if err != nil || !ok {
		t.Fatalf("Get(null): ok=%v err=%v", ok, err)
	}
	if null != nil {
		t.Errorf("null = %v, want nil", null)
	}

	var when time.Time
	ok, err = s.Get(ctx, "when", &when)
	if err != nil || !ok {
		t.Fatalf("Get(when): ok=%v err=%v", ok, err)
	}
	if !when.Equal(created) {
		t.Errorf("when = %v, want %v", when, created)
	}

	var nested map[string]any
	ok, err = s.Get(ctx, "nested", &nested)
	if err != nil || !ok {
		t.Fatalf("Get(nested): ok=%v err=%v", ok, err)
	}
	secret, _ := nested["secret"].(map[string]any)
	if secret == nil || secret["value"] != "abc.def" {
		t.Errorf("nested round trip lost inner map: %v", nested)
	}
}

func TestGetAbsentAndCorrupt(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	var v string
	ok, err := s.Get(ctx, "nothing", &v)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Error("absent field reported present")
	}

	// A field whose bytes do not decode behaves like a missing one.
	mr.HSet("test:certs:settings", "corrupt", "\xc1not-msgpack")
	var m map[string]any
	ok, err = s.Get(ctx, "corrupt", &m)
	if err != nil {
		t.Fatalf("Get(corrupt) returned error: %v", err)
	}
	if ok {
		t.Error("corrupt field reported present")
	}
}

func TestGetMulti(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, map[string]any{"a": "one", "b": int64(2)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var a string
	var b int64
	var c string
	present, err := s.GetMulti(ctx, map[string]any{"a": &a, "b": &b, "c": &c})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if !present["a"] || !present["b"] || present["c"] {
		t.Errorf("present = %v, want a,b true and c false", present)
	}
	if a != "one" || b != 2 {
		t.Errorf("decoded a=%q b=%d, want one, 2", a, b)
	}
	if c != "" {
		t.Errorf("absent field mutated destination: %q", c)
	}
}

func TestHasDelete(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err := s.Has(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Has = %v, %v; want true, nil", ok, err)
	}

	n, err := s.Delete(ctx, "k", "missing")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Delete = %d, want 1", n)
	}

	ok, _ = s.Has(ctx, "k")
	if ok {
		t.Error("field survived Delete")
	}
}

func TestIncrCounterDecodesAsInt(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "domain:example.com:certVersion", 1)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != i {
			t.Errorf("Incr = %d, want %d", n, i)
		}
	}

	// The raw decimal comes back through the strconv path, not the codec.
	var version int64
	ok, err := s.Get(ctx, "domain:example.com:certVersion", &version)
	if err != nil || !ok {
		t.Fatalf("Get(version): ok=%v err=%v", ok, err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.Set(ctx, map[string]any{
		"domain:a.example.com:data":       map[string]any{"domain": "a.example.com"},
		"domain:b.example.com:data":       map[string]any{"domain": "b.example.com"},
		"domain:a.example.com:privateKey": []byte("pem"),
		"account:production":              map[string]any{},
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	names, err := s.Scan(ctx, "domain:*:data")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("Scan returned %d names (%v), want 2", len(names), names)
	}
	for _, n := range names {
		if n != "domain:a.example.com:data" && n != "domain:b.example.com:data" {
			t.Errorf("unexpected field name %q", n)
		}
	}
}
