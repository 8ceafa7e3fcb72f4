// Package filestore persists account records as one JSON document per account
// in a single directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/google/uuid"
)

const (
	recordExtension = ".json"
	directoryMode   = 0o700
	recordMode      = 0o600
)

// Store implements ledger.Store on the local filesystem. Writes go to a
// temporary file in the same directory which is renamed over the record, so a
// crash leaves either the old or the new document readable.
type Store struct {
	directory string
	newUUID   func() string
}

// New returns a store rooted at directory, creating it if needed.
func New(directory string) (*Store, error) {
	if strings.TrimSpace(directory) == "" {
		return nil, fmt.Errorf("%w: persistence directory is empty", ledger.ErrInvalidServiceConfig)
	}
	if err := os.MkdirAll(directory, directoryMode); err != nil {
		return nil, wrapStoreError("open", err)
	}
	return &Store{directory: directory, newUUID: uuid.NewString}, nil
}

// Directory returns the persistence directory.
func (store *Store) Directory() string {
	return store.directory
}

func (store *Store) Load(ctx context.Context, name string) (ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, err
	}
	path, err := store.path(name)
	if err != nil {
		return ledger.Record{}, err
	}
	contents, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.Record{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, name)
	}
	if err != nil {
		return ledger.Record{}, wrapStoreError("load", err)
	}
	var record ledger.Record
	if err := json.Unmarshal(contents, &record); err != nil {
		return ledger.Record{}, wrapStoreError("load", fmt.Errorf("decode %s: %w", path, err))
	}
	record.Normalize()
	if err := record.Validate(); err != nil {
		return ledger.Record{}, wrapStoreError("load", err)
	}
	return record, nil
}

func (store *Store) Create(ctx context.Context, name string) (ledger.Record, error) {
	record, err := store.Load(ctx, name)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return ledger.Record{}, err
	}
	record = ledger.NewRecord(name, store.newUUID())
	if err := store.Persist(ctx, record); err != nil {
		return ledger.Record{}, err
	}
	return record, nil
}

func (store *Store) Persist(ctx context.Context, record ledger.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}
	path, err := store.path(record.Name)
	if err != nil {
		return err
	}
	contents, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return wrapStoreError("persist", err)
	}
	if err := writeAtomic(store.directory, path, contents); err != nil {
		return wrapStoreError("persist", err)
	}
	return nil
}

func (store *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := store.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapStoreError("delete", err)
	}
	return nil
}

func (store *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(store.directory)
	if err != nil {
		return nil, wrapStoreError("list", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), recordExtension))
	}
	sort.Strings(names)
	return names, nil
}

func (store *Store) path(name string) (string, error) {
	normalized, err := ledger.NewAccountName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(store.directory, normalized+recordExtension), nil
}

func writeAtomic(directory string, path string, contents []byte) error {
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	temporaryPath := temporary.Name()
	cleanup := func() {
		_ = os.Remove(temporaryPath)
	}
	if _, err := temporary.Write(contents); err != nil {
		_ = temporary.Close()
		cleanup()
		return err
	}
	if err := temporary.Sync(); err != nil {
		_ = temporary.Close()
		cleanup()
		return err
	}
	if err := temporary.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(temporaryPath, recordMode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func wrapStoreError(code string, err error) error {
	return ledger.WrapError("filestore", "record", code, err)
}
