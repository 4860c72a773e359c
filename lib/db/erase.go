package db

import (
	"context"
	"errors"
)

// ExtensionErase is the name under which WithErase is registered as extension
const ExtensionErase = "erase"

// maxEraseAttempts bounds how often a single document is retried when it is
// modified concurrently while erasing
const maxEraseAttempts = 3

// eraser adds FeatureErase to engines that can only remove single documents
type eraser struct {
	KVDB
}

// WithErase returns a database that supports Erase. Engines that support
// FeatureErase natively are returned unchanged, all others are wrapped and
// erase the database by removing every listed document one by one.
//
// The emulated erase is not atomic: documents written concurrently may survive.
func WithErase(database KVDB) KVDB {
	if database == nil || database.SupportsFeature(FeatureErase) {
		return database
	}
	return &eraser{KVDB: database}
}

func (e *eraser) Erase(ctx context.Context) error {
	keys, err := e.KVDB.AllKeys(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.removeLatest(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// removeLatest removes the document with the given key regardless of its revision
func (e *eraser) removeLatest(ctx context.Context, key string) error {
	var err error
	for attempt := 0; attempt < maxEraseAttempts; attempt++ {
		var doc Doc
		doc, err = e.KVDB.Get(ctx, key)
		if IsNotFound(err) {
			return nil
		} else if err != nil {
			return err
		}

		err = e.KVDB.Remove(ctx, key, doc.Rev)
		if err == nil || IsNotFound(err) {
			return nil
		} else if !IsConflict(err) {
			return err
		}
	}
	return err
}

func (e *eraser) SupportsFeature(feature Feature) bool {
	return e.KVDB.SupportsFeature(feature &^ FeatureErase)
}

// Unwrap returns the wrapped database
func (e *eraser) Unwrap() KVDB {
	return e.KVDB
}
