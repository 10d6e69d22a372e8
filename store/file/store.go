// Package filestore keeps the credential record in a JSON file compatible with
// the tokens.json layout used by earlier deployments.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmwatch/core"
)

const (
	keyRefreshToken = "refresh_token"
	keyAccessToken  = "access_token"
	keyExpiresAt    = "expires_at"
	keyAPIDomain    = "api_domain"

	filePerm = 0o600
)

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Load(ctx context.Context) (core.Credential, error) {
	if err := s.check(ctx); err != nil {
		return core.Credential{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Credential{}, core.ConfigError("credential file does not exist", map[string]any{"path": s.path})
		}
		return core.Credential{}, core.WrapConfigError(err, "read credential file", map[string]any{"path": s.path})
	}
	credential, err := Decode(data)
	if err != nil {
		return core.Credential{}, core.WrapConfigError(err, "malformed credential file", map[string]any{"path": s.path})
	}
	if !credential.HasRefreshToken() {
		return core.Credential{}, core.ConfigError("credential file has no refresh_token", map[string]any{"path": s.path})
	}
	return credential, nil
}

// Save replaces the file atomically: a temp file in the same directory is
// written, synced and renamed over the target.
func (s *Store) Save(ctx context.Context, credential core.Credential) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	data, err := Encode(credential)
	if err != nil {
		return core.PersistenceError(err, "encode credential", map[string]any{"path": s.path})
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return core.PersistenceError(err, "create temp credential file", map[string]any{"path": s.path})
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		cleanup()
		return core.PersistenceError(err, "chmod temp credential file", map[string]any{"path": tmpPath})
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return core.PersistenceError(err, "write temp credential file", map[string]any{"path": tmpPath})
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return core.PersistenceError(err, "sync temp credential file", map[string]any{"path": tmpPath})
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return core.PersistenceError(err, "close temp credential file", map[string]any{"path": tmpPath})
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return core.PersistenceError(err, "replace credential file", map[string]any{"path": s.path})
	}
	syncDir(dir)
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s == nil || s.path == "" {
		return core.ConfigError("credential file path is not configured", map[string]any{"env": "TOK_FILE"})
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return core.PersistenceError(err, "credential store call cancelled", nil)
		}
	}
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	handle, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = handle.Sync()
	_ = handle.Close()
}

// Decode parses a credential document. Unknown keys are kept in Extra.
func Decode(data []byte) (core.Credential, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return core.Credential{}, err
	}
	credential := core.Credential{}
	var err error
	if credential.RefreshToken, err = stringField(fields, keyRefreshToken); err != nil {
		return core.Credential{}, err
	}
	if credential.AccessToken, err = stringField(fields, keyAccessToken); err != nil {
		return core.Credential{}, err
	}
	if credential.APIDomain, err = stringField(fields, keyAPIDomain); err != nil {
		return core.Credential{}, err
	}
	if credential.ExpiresAt, err = timeField(fields, keyExpiresAt); err != nil {
		return core.Credential{}, err
	}
	for _, key := range []string{keyRefreshToken, keyAccessToken, keyAPIDomain, keyExpiresAt} {
		delete(fields, key)
	}
	if len(fields) > 0 {
		credential.Extra = fields
	}
	return credential, nil
}

// Encode renders a deterministic document: sorted keys, two space indent and
// a trailing newline.
func Encode(credential core.Credential) ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(credential.Extra)+4)
	for key, value := range credential.Extra {
		fields[key] = value
	}
	put := func(key string, value string) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := put(keyRefreshToken, credential.RefreshToken); err != nil {
		return nil, err
	}
	if credential.AccessToken != "" {
		if err := put(keyAccessToken, credential.AccessToken); err != nil {
			return nil, err
		}
	}
	if credential.APIDomain != "" {
		if err := put(keyAPIDomain, credential.APIDomain); err != nil {
			return nil, err
		}
	}
	if credential.ExpiresAt != nil {
		fields[keyExpiresAt] = json.RawMessage(formatEpoch(*credential.ExpiresAt))
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for idx, key := range keys {
		name, _ := json.Marshal(key)
		var value bytes.Buffer
		if err := json.Indent(&value, fields[key], "  ", "  "); err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(name)
		buf.WriteString(": ")
		buf.Write(value.Bytes())
		if idx < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", errors.New(key + " must be a string")
	}
	return value, nil
}

// timeField accepts Unix seconds (integer or fractional) or RFC3339 text.
func timeField(fields map[string]json.RawMessage, key string) (*time.Time, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return nil, errors.New(key + " is not a finite number")
		}
		whole, frac := math.Modf(seconds)
		value := time.Unix(int64(whole), int64(math.Round(frac*1e3))*int64(time.Millisecond)).UTC()
		return &value, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, errors.New(key + " must be a number or RFC3339 string")
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		return timeField(map[string]json.RawMessage{key: json.RawMessage(strconv.FormatFloat(parsed, 'f', -1, 64))}, key)
	}
	value, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
	if err != nil {
		return nil, errors.New(key + " must be a number or RFC3339 string")
	}
	value = value.UTC()
	return &value, nil
}

// formatEpoch writes Unix seconds with millisecond precision.
func formatEpoch(value time.Time) string {
	millis := value.UTC().UnixMilli()
	if millis%1000 == 0 {
		return strconv.FormatInt(millis/1000, 10)
	}
	return strconv.FormatFloat(float64(millis)/1000, 'f', -1, 64)
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

var _ core.CredentialStore = (*Store)(nil)
