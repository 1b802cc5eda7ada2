package settings

import (
	"context"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/caasmo/certherd/kv"
)

// Prefix returns the installation-wide key prefix all coordinator state
// lives under. Flat keys (challenges, locks) and the settings hash share it.
func Prefix(namespace string) string {
	return namespace + ":certs:"
}

// hashField is the settings hash name inside the prefix. Nothing but
// settings fields may live in this hash.
const hashName = "settings"

// Store is a typed facade over a single hash whose fields hold
// msgpack-encoded values. Writes of multiple fields happen in one
// round trip and are applied atomically by the server.
//
// Counter fields maintained with Incr are stored as the server's raw
// decimal string; Get decodes them into *int64 / *uint64 destinations
// without involving the codec.
type Store struct {
	kvc kv.Client
	key string
}

func New(kvc kv.Client, namespace string) *Store {
	return &Store{
		kvc: kvc,
		key: Prefix(namespace) + hashName,
	}
}

// Set encodes every value and writes all fields as a single hash write.
func (s *Store) Set(ctx context.Context, fields map[string]any) error {
	enc := make(map[string][]byte, len(fields))
	for f, v := range fields {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return err
		}
		enc[f] = b
	}
	return s.kvc.HSet(ctx, s.key, enc)
}

// Get reads one field into dest. It returns false when the field is absent
// or when its bytes do not decode into dest; a corrupt field behaves like a
// missing one so a rewrite can heal it. Transport errors are returned.
func (s *Store) Get(ctx context.Context, field string, dest any) (bool, error) {
	raw, ok, err := s.kvc.HGet(ctx, s.key, field)
	if err != nil {
		return false, err
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := decode(raw, dest); err != nil {
		return false, nil
	}
	return true, nil
}

// GetMulti reads all destinations in a single round trip. dests maps field
// names to pointers; the returned map reports which fields were present and
// decoded. Absent or undecodable fields leave their destination untouched.
func (s *Store) GetMulti(ctx context.Context, dests map[string]any) (map[string]bool, error) {
	fields := make([]string, 0, len(dests))
	for f := range dests {
		fields = append(fields, f)
	}
	raws, err := s.kvc.HMGet(ctx, s.key, fields...)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(dests))
	for i, f := range fields {
		raw := raws[i]
		if len(raw) == 0 {
			present[f] = false
			continue
		}
		if err := decode(raw, dests[f]); err != nil {
			present[f] = false
			continue
		}
		present[f] = true
	}
	return present, nil
}

// Has reports whether the field exists, without decoding it.
func (s *Store) Has(ctx context.Context, field string) (bool, error) {
	return s.kvc.HExists(ctx, s.key, field)
}

// Delete removes the listed fields and returns how many existed.
func (s *Store) Delete(ctx context.Context, fields ...string) (int64, error) {
	return s.kvc.HDel(ctx, s.key, fields...)
}

// Incr atomically increments a counter field and returns the new value.
func (s *Store) Incr(ctx context.Context, field string, by int64) (int64, error) {
	return s.kvc.HIncrBy(ctx, s.key, field, by)
}

// Scan returns the names of settings fields matching the glob pattern.
func (s *Store) Scan(ctx context.Context, match string) ([]string, error) {
	return s.kvc.HScan(ctx, s.key, match)
}

// decode unpacks raw field bytes into dest. Integer-pointer destinations
// read the raw decimal form written by HINCRBY; everything else goes
// through msgpack. Counter bytes must never reach the codec: msgpack reads
// ASCII digits as its own type tags (a stored "5" decodes as 53).
func decode(raw []byte, dest any) error {
	switch d := dest.(type) {
	case *int64:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		*d = n
		return nil
	case *uint64:
		n, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return err
		}
		*d = n
		return nil
	default:
		return msgpack.Unmarshal(raw, dest)
	}
}
