// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine wires every component (archive, packfile, layout,
// stringpack, keystore, mangle, content, contentloader, symbol,
// filter) into the single in-process Viewer API (C11, §6.3) that a UI
// or CLI consumes.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xvwyh/GW2Viewer-sub000/internal/guid"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/archive"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/contentloader"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/filter"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/keystore"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/mangle"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/stringpack"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/symbol"
)

// Engine is the component graph's assembly point. It owns no I/O of
// its own: callers supply an archive.Reader and (optionally) a
// keystore populated ahead of time or kept live via a SQLiteSource
// (§6.2's "loader polls the database at ~1 Hz").
type Engine struct {
	Reader   archive.Reader
	Keystore *keystore.Keystore
	Texts    *stringpack.TextManager
	Graph    *content.Graph
	Symbols  *symbol.Engine

	Filters map[filter.Domain]*filter.Scheduler

	loader *contentloader.Loader
}

// New constructs an Engine bound to reader and ks. ptrWidth is the
// archive's pointer width (4 or 8), forwarded to the symbol engine for
// RawPointer/ContentPointer sizing (§3.5).
func New(reader archive.Reader, ks *keystore.Keystore, ptrWidth int) *Engine {
	graph := content.NewGraph()
	symEngine := symbol.NewEngine(graph, ptrWidth)

	schedulers := make(map[filter.Domain]*filter.Scheduler)
	for _, d := range []filter.Domain{
		filter.DomainFiles, filter.DomainStrings, filter.DomainContent,
		filter.DomainConversations, filter.DomainEvents,
	} {
		schedulers[d] = filter.NewScheduler(d)
	}

	return &Engine{
		Reader:   reader,
		Keystore: ks,
		Texts:    stringpack.NewTextManager(reader, ks),
		Graph:    graph,
		Symbols:  symEngine,
		Filters:  schedulers,
		loader:   contentloader.NewLoader(graph),
	}
}

// archiveFileKey is the bridge between archive.FileID (this module's
// opaque uint32 archive-scoped id, §3.1) and contentloader.FileID
// (an opaque string key; the content-pack layer doesn't need to know
// it's backed by a numeric archive id). A fixed textual encoding keeps
// the two id spaces in lockstep without contentloader importing
// archive.
func archiveFileKey(id archive.FileID) contentloader.FileID {
	return contentloader.FileID(fmt.Sprintf("archive-file-%d", uint32(id)))
}

// LoadContentFiles parses and registers every content-pack file in
// ids against the loader, with root marking root (§4.6: content files
// are loaded as a set, one of which is the root file whose namespace
// tree anchors every other file's entries). Run() must be called
// before the graph is queryable.
func (e *Engine) LoadContentFiles(ids []archive.FileID, rootID archive.FileID) error {
	for _, id := range ids {
		raw := e.Reader.GetFile(id)
		if len(raw) == 0 {
			continue // §7 Io: missing file is skipped, not fatal
		}
		pf, err := packfile.Parse(raw)
		if err != nil {
			continue // §7 BadHeader/BadChunk: file omitted from consumers
		}
		e.loader.AddFile(archiveFileKey(id), pf, id == rootID)
	}
	return nil
}

// Run executes the loader's S1-S4 algorithm (§4.6) over every file
// added so far. content_loaded (Loaded()) flips true exactly once
// S3 completes; callers following §5's polling model should call Run
// from a single dedicated goroutine and have consumers poll Loaded().
func (e *Engine) Run() error {
	return e.loader.Run()
}

// Loaded reports §5's content_loaded signal.
func (e *Engine) Loaded() bool { return e.loader.Loaded() }

// LoaderErrors surfaces every non-fatal error recorded during
// loading (§7: UnresolvedReference, UnknownLayout, ...). A
// DuplicateIdentityError appearing here indicates the entire load
// should be considered failed (§7: fatal for the whole load), even
// though Run() itself still returns nil for non-fatal entries.
func (e *Engine) LoaderErrors() []error { return e.loader.Errors() }

// WaitLoaded blocks (polling at the interval §5 names, ~50ms) until
// content_loaded becomes true or ctx is cancelled.
func (e *Engine) WaitLoaded(ctx context.Context) error {
	for !e.Loaded() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// --- §6.3 Viewer API ---

// GetType returns the registered ContentType for typeIdx.
func (e *Engine) GetType(typeIdx uint32) (*content.ContentType, bool) {
	t, ok := e.Graph.Types[typeIdx]
	return t, ok
}

// GetObjectByGUID looks up an object by its identity GUID.
func (e *Engine) GetObjectByGUID(id guid.GUID) (*content.ContentObject, bool) {
	o, ok := e.Graph.ByGUID[id]
	return o, ok
}

// GetObjectByDataID scans typeIdx's objects for one with a matching
// DataID. §6.3 names this as a direct lookup; the graph doesn't
// maintain a dedicated index for it (DataID isn't unique the way GUID
// is, per §3.4), so this is a linear scan over the type's instances.
func (e *Engine) GetObjectByDataID(typeIdx uint32, dataID uint32) (*content.ContentObject, bool) {
	t, ok := e.Graph.Types[typeIdx]
	if !ok {
		return nil, false
	}
	for _, o := range t.Objects() {
		if o.DataID.OK && o.DataID.Val == dataID {
			return o, true
		}
	}
	return nil, false
}

// GetObjectByDataPtr looks up an object by its (file, offset) identity.
func (e *Engine) GetObjectByDataPtr(ptr content.DataPtr) (*content.ContentObject, bool) {
	o, ok := e.Graph.ByDataPtr[ptr]
	return o, ok
}

// RootNamespace returns the namespace tree's root.
func (e *Engine) RootNamespace() *content.ContentNamespace {
	return e.Graph.RootNamespace
}

// Query runs a symbol-path traversal over obj (§4.7).
func (e *Engine) Query(obj *content.ContentObject, path string) ([]symbol.Result, error) {
	return e.Symbols.Query(obj, path)
}

// GetString resolves a string id under language (§6.3/§4.3).
func (e *Engine) GetString(language stringpack.Language, id uint32) (string, stringpack.Status) {
	return e.Texts.GetString(language, id)
}

// FormatString resolves id and substitutes params into its term
// grammar (§6.3/§4.3).
func (e *Engine) FormatString(language stringpack.Language, id uint32, params ...stringpack.Param) string {
	return e.Texts.Format(language, id, params...)
}

// MangleFullName implements §6.5's external contract verbatim.
func (e *Engine) MangleFullName(name string) string {
	return mangle.MangleFullName(name)
}

// AddTextKey/GetTextKey and AddAssetKey/GetAssetKey forward to the
// keystore (§6.3); the engine doesn't interpose any extra policy.
func (e *Engine) AddTextKey(stringID uint32, rec keystore.TextKeyRecord) {
	e.Keystore.AddTextKey(stringID, rec)
}

func (e *Engine) GetTextKey(stringID uint32) (keystore.TextKeyRecord, bool) {
	return e.Keystore.GetTextKey(stringID)
}

func (e *Engine) AddAssetKey(kind, id uint32, key uint64) {
	e.Keystore.AddAssetKey(kind, id, key)
}

func (e *Engine) GetAssetKey(kind, id uint32) (uint64, bool) {
	return e.Keystore.GetAssetKey(kind, id)
}

// FilterContent submits a content-domain filter job and returns
// immediately; the caller polls Filters[filter.DomainContent].Result()
// for the vector once it's ready (§6.3: "filter_strings(spec) →
// future<vector<string_id>>", generalized here to every domain).
func (e *Engine) FilterContent(ctx context.Context, job *filter.Job) {
	e.Filters[filter.DomainContent].Submit(ctx, job)
}

// GetDisplayName implements §4.5's fallback chain for obj, using the
// symbol engine's name-field-path resolver.
func (e *Engine) GetDisplayName(obj *content.ContentObject) string {
	return e.Graph.GetDisplayName(obj, &symbol.Resolver{Engine: e.Symbols})
}
