package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

const storeTimeout = 10 * time.Second

func openStore() (storage.Store, error) {
	st, err := storage.Open(storage.Config{Driver: storeDriver, Path: storePath}, logx.NewConsole("WARN"))
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", storeDriver, storePath, err)
	}
	if st == nil {
		return nil, errors.New("storage driver disables persistence; nothing to inspect")
	}
	return st, nil
}

// loadSnapshot opens the store, reads the newest snapshot and hands both to fn.
func loadSnapshot(ctx context.Context, fn func(st storage.Store, snap *storage.Snapshot) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	snap, err := st.Load(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	return fn(st, snap)
}
