// Package explorer is the stateful core of the file manager. It owns the
// logical file collection, the selection and the loaded content, and routes
// every mutation through a storage gateway with optimistic updates and
// rollback.
package explorer

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/blobtext/internal/events"
	"github.com/fruitsalade/blobtext/internal/gateway"
	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/internal/metrics"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
	"github.com/fruitsalade/blobtext/pkg/tree"
	"github.com/fruitsalade/blobtext/pkg/validate"
)

const (
	// ContentLoadError replaces the content when a selected file cannot be read.
	ContentLoadError = "Error loading file content"

	// Placeholder is stored in place of empty file content.
	Placeholder = "\u200B"
)

// Operation names used in events and metrics.
const (
	OpFetch     = "fetch"
	OpSelect    = "select"
	OpCreate    = "create"
	OpModify    = "modify"
	OpDelete    = "delete"
	OpDeleteAll = "delete_all"
)

// State is a consistent copy of the explorer state.
type State struct {
	Files          []models.LogicalFile
	Selected       *models.LogicalFile
	Content        string
	ListLoading    bool
	ContentLoading bool
	Deleting       []string
}

// Explorer coordinates the file collection with a storage gateway.
type Explorer struct {
	gw         gateway.Gateway
	publisher  events.Publisher
	pruneStale bool
	now        func() time.Time

	fetchGroup singleflight.Group

	mu             sync.RWMutex
	files          []models.LogicalFile
	selected       *models.LogicalFile
	content        string
	listLoading    bool
	contentLoading bool
	deleting       map[string]struct{}
	selectSeq      uint64
}

// New creates an Explorer over gw. The collection starts empty; call Fetch
// to load it.
func New(gw gateway.Gateway, opts ...Option) *Explorer {
	e := &Explorer{
		gw:       gw,
		now:      time.Now,
		files:    []models.LogicalFile{},
		deleting: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns a copy of the full state.
func (e *Explorer) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		Files:          slices.Clone(e.files),
		Selected:       cloneFile(e.selected),
		Content:        e.content,
		ListLoading:    e.listLoading,
		ContentLoading: e.contentLoading,
		Deleting:       e.deletingLocked(),
	}
}

// Files returns the current collection.
func (e *Explorer) Files() []models.LogicalFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.files)
}

// Selected returns the selected entry, or nil.
func (e *Explorer) Selected() *models.LogicalFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneFile(e.selected)
}

// Content returns the content loaded for the selection.
func (e *Explorer) Content() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.content
}

// Deleting returns the sorted pathnames with a delete in flight.
func (e *Explorer) Deleting() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deletingLocked()
}

// Tree builds the display tree of the current collection.
func (e *Explorer) Tree() []models.Node {
	return tree.Build(e.Files())
}

// Lookup returns the entry with the given logical pathname.
func (e *Explorer) Lookup(p string) (models.LogicalFile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := indexOf(e.files, p); i >= 0 {
		return e.files[i], true
	}
	return models.LogicalFile{}, false
}

// Validate checks a pathname against the current collection.
func (e *Explorer) Validate(p string, isEditing bool) models.ValidationResult {
	return validate.Validate(p, isEditing, e.Files())
}

// Fetch replaces the collection with the gateway listing. Concurrent calls
// share one List request. On failure the collection is left unchanged.
func (e *Explorer) Fetch(ctx context.Context) error {
	_, err, _ := e.fetchGroup.Do(OpFetch, func() (any, error) {
		return nil, e.fetch(ctx)
	})
	return err
}

func (e *Explorer) fetch(ctx context.Context) error {
	e.mu.Lock()
	e.listLoading = true
	e.mu.Unlock()

	objects, err := e.gw.List(ctx)

	e.mu.Lock()
	e.listLoading = false
	var n int
	if err == nil {
		e.files = pathname.Collapse(objects)
		n = len(e.files)
	}
	e.mu.Unlock()

	metrics.RecordExplorerOperation(OpFetch, err == nil)
	if err != nil {
		err = gateway.Wrap(gateway.OpList, err)
		logging.WithContext(ctx).Warn("fetch failed, keeping current collection", zap.Error(err))
		return err
	}

	metrics.SetTreeSize(n)
	e.publish(events.Event{Type: events.EventRefresh, Count: n})
	logging.WithContext(ctx).Debug("collection refreshed", zap.Int("files", n))
	return nil
}

// Select makes file the current selection and loads its content. A nil file
// clears the selection. Directories and unsaved entries have no content.
// A failed read leaves the selection set with ContentLoadError as content.
// A result that lands after the selection has changed is discarded.
func (e *Explorer) Select(ctx context.Context, file *models.LogicalFile) {
	e.mu.Lock()
	e.selectSeq++
	seq := e.selectSeq
	e.selected = cloneFile(file)
	e.content = ""
	e.contentLoading = false
	if file == nil || file.IsDirectory || pathname.IsDir(file.Pathname) || file.URL == "" {
		e.mu.Unlock()
		e.publishSelect(file)
		return
	}
	e.contentLoading = true
	url := file.URL
	e.mu.Unlock()

	content, err := e.gw.GetContent(ctx, url)

	e.mu.Lock()
	if seq != e.selectSeq {
		e.mu.Unlock()
		logging.WithContext(ctx).Debug("discarding stale content", zap.String("path", file.Pathname))
		return
	}
	e.contentLoading = false
	if err != nil {
		e.content = ContentLoadError
	} else {
		e.content = strings.TrimPrefix(content, Placeholder)
	}
	e.mu.Unlock()

	metrics.RecordExplorerOperation(OpSelect, err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("failed to load file content",
			zap.String("path", file.Pathname), zap.Error(gateway.Wrap(gateway.OpGetContent, err)))
	}
	e.publishSelect(file)
}

func (e *Explorer) publishSelect(file *models.LogicalFile) {
	ev := events.Event{Type: events.EventSelect}
	if file != nil {
		ev.Path = file.Pathname
	}
	e.publish(ev)
}

// Save creates (isEditing false) or overwrites (isEditing true) the entry at
// p. A pathname ending in "/" creates a directory marker and ignores content.
// The entry is added and selected before the gateway call. On gateway
// failure that entry and the previous selection are restored and the error
// is returned as a *gateway.Error. Empty file content is stored as
// Placeholder and the entry reports the stored size.
func (e *Explorer) Save(ctx context.Context, p, content string, isEditing bool) (models.LogicalFile, error) {
	result := e.Validate(p, isEditing)
	if !result.IsValid {
		metrics.RecordValidationFailure(reason(result.Error))
		return models.LogicalFile{}, &ValidationError{Result: result}
	}

	isDir := pathname.IsDir(p)
	op := OpCreate
	if isEditing {
		op = OpModify
	}

	stored := content
	if !isDir && stored == "" {
		stored = Placeholder
	}

	e.mu.Lock()
	tx := e.beginLocked(p)
	entry := models.LogicalFile{Pathname: p, UploadedAt: e.now(), IsDirectory: isDir}
	if !isDir {
		entry.Size = int64(len(stored))
	}
	files := slices.Clone(e.files)
	var prevURL string
	if i := indexOf(files, p); isEditing && i >= 0 {
		prevURL = files[i].URL
		entry = files[i]
		tx.prior = cloneFile(&entry)
	} else {
		files = append(files, entry)
		tx.added = true
	}
	e.files = files
	e.selectLocked(&entry)
	tx.seq = e.selectSeq
	e.mu.Unlock()

	var (
		res  models.PutResult
		err  error
		gwOp = gateway.OpPut
	)
	if isDir {
		gwOp = gateway.OpMkdir
		res, err = e.gw.CreateDirectoryMarker(ctx, p)
	} else {
		res, err = e.gw.Put(ctx, p, stored, models.PutOptions{AddRandomSuffix: true})
	}

	if err != nil {
		err = gateway.Wrap(gwOp, err)
		e.mu.Lock()
		e.rollbackLocked(tx)
		e.mu.Unlock()
		e.recordRollback(ctx, op, p, err)
		return models.LogicalFile{}, err
	}

	e.mu.Lock()
	files = slices.Clone(e.files)
	i := indexOf(files, p)
	if i < 0 {
		files = append(files, entry)
		i = len(files) - 1
	}
	files[i].URL = res.URL
	files[i].DownloadURL = res.DownloadURL
	if isEditing {
		files[i].UploadedAt = e.now()
	}
	if !isDir {
		files[i].Size = int64(len(stored))
	}
	saved := files[i]
	e.files = files
	if e.selectSeq == tx.seq || (e.selected != nil && e.selected.Pathname == p) {
		e.selected = cloneFile(&saved)
		if !isDir {
			e.content = content
		}
	}
	n := len(files)
	e.mu.Unlock()

	metrics.RecordExplorerOperation(op, true)
	metrics.SetTreeSize(n)
	eventType := events.EventCreate
	if isEditing {
		eventType = events.EventModify
	}
	e.publish(events.Event{Type: eventType, Path: p, URL: saved.URL, Size: saved.Size})
	logging.WithContext(ctx).Info("saved",
		zap.String("op", op), zap.String("path", p), zap.String("url", saved.URL))

	if isEditing && e.pruneStale && prevURL != "" && prevURL != res.URL {
		if err := e.gw.Delete(ctx, []string{prevURL}); err != nil {
			logging.WithContext(ctx).Warn("failed to prune replaced object",
				zap.String("path", p), zap.String("url", prevURL), zap.Error(err))
		}
	}
	return saved, nil
}

// Create composes a pathname from a target directory and a typed name and
// saves an empty entry there.
func (e *Explorer) Create(ctx context.Context, dir, name string, isDirectory bool) (models.LogicalFile, error) {
	if pathname.TrimDir(name) == "" {
		metrics.RecordValidationFailure(reason(validate.ErrEmpty))
		return models.LogicalFile{}, &ValidationError{
			Result: models.ValidationResult{Error: validate.ErrEmpty},
		}
	}
	return e.Save(ctx, pathname.Compose(dir, name, isDirectory), "", false)
}

// Delete removes file, or for a directory the marker and every descendant,
// with one batched gateway call. The entries leave the collection before the
// call. On failure the listing is fetched again; if that also fails the
// removed entries are put back. The delete error is returned either way.
func (e *Explorer) Delete(ctx context.Context, file models.LogicalFile) error {
	isDir := file.IsDirectory || pathname.IsDir(file.Pathname)

	e.mu.Lock()
	prev := e.files
	var affected, remaining []models.LogicalFile
	for _, f := range e.files {
		if f.Pathname == file.Pathname || (isDir && pathname.HasPrefixDir(f.Pathname, file.Pathname)) {
			affected = append(affected, f)
		} else {
			remaining = append(remaining, f)
		}
	}
	if len(affected) == 0 {
		affected = []models.LogicalFile{file}
	}
	if remaining == nil {
		remaining = []models.LogicalFile{}
	}
	e.files = remaining
	if e.selected != nil && containsPath(affected, e.selected.Pathname) {
		e.selectLocked(nil)
	}
	e.markLocked(affected)
	e.mu.Unlock()

	err := e.deleteURLs(ctx, affected)

	e.mu.Lock()
	e.unmarkLocked(affected)
	n := len(e.files)
	e.mu.Unlock()

	if err != nil {
		logging.WithContext(ctx).Warn("delete failed, resynchronizing",
			zap.String("path", file.Pathname), zap.Int("entries", len(affected)), zap.Error(err))
		metrics.RecordExplorerOperation(OpDelete, false)
		if ferr := e.Fetch(ctx); ferr != nil {
			e.mu.Lock()
			e.files = restoreEntries(prev, e.files, affected)
			e.mu.Unlock()
			e.recordRollback(ctx, OpDelete, file.Pathname, err)
		}
		return err
	}

	metrics.RecordExplorerOperation(OpDelete, true)
	metrics.SetTreeSize(n)
	e.publish(events.Event{Type: events.EventDelete, Path: file.Pathname, Paths: pathsOf(affected), Count: len(affected)})
	logging.WithContext(ctx).Info("deleted",
		zap.String("path", file.Pathname), zap.Int("entries", len(affected)))
	return nil
}

// DeleteAll removes every entry with one batched gateway call. On failure
// the removed entries and the previous selection are restored.
func (e *Explorer) DeleteAll(ctx context.Context) error {
	e.mu.Lock()
	tx := e.beginLocked("")
	affected := e.files
	e.files = []models.LogicalFile{}
	e.selectLocked(nil)
	tx.seq = e.selectSeq
	e.markLocked(affected)
	e.mu.Unlock()

	err := e.deleteURLs(ctx, affected)

	e.mu.Lock()
	e.unmarkLocked(affected)
	if err != nil {
		e.files = restoreEntries(affected, e.files, affected)
		e.restoreSelectionLocked(tx)
	}
	e.mu.Unlock()

	if err != nil {
		e.recordRollback(ctx, OpDeleteAll, "", err)
		return err
	}

	metrics.RecordExplorerOperation(OpDeleteAll, true)
	metrics.SetTreeSize(0)
	e.publish(events.Event{Type: events.EventDelete, Paths: pathsOf(affected), Count: len(affected)})
	logging.WithContext(ctx).Info("deleted all", zap.Int("entries", len(affected)))
	return nil
}

// deleteURLs issues one batched delete for the saved entries in files.
func (e *Explorer) deleteURLs(ctx context.Context, files []models.LogicalFile) error {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		if f.URL != "" {
			urls = append(urls, f.URL)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return gateway.Wrap(gateway.OpDelete, e.gw.Delete(ctx, urls))
}

// txn records what one optimistic save changed so that a rollback reverses
// only that change against whatever the collection holds by then.
type txn struct {
	path     string
	added    bool
	prior    *models.LogicalFile
	selected *models.LogicalFile
	content  string
	seq      uint64 // selectSeq after the optimistic selection
}

func (e *Explorer) beginLocked(p string) txn {
	return txn{
		path:     p,
		selected: cloneFile(e.selected),
		content:  e.content,
	}
}

// rollbackLocked undoes a failed save. Entries committed by other operations
// in the meantime are kept.
func (e *Explorer) rollbackLocked(tx txn) {
	files := slices.Clone(e.files)
	if i := indexOf(files, tx.path); i >= 0 {
		switch {
		case tx.added:
			files = slices.Delete(files, i, i+1)
		case tx.prior != nil:
			files[i] = *tx.prior
		}
	}
	e.files = files
	e.restoreSelectionLocked(tx)
}

// restoreSelectionLocked puts back the selection and content captured by tx
// unless a later operation has changed the selection since.
func (e *Explorer) restoreSelectionLocked(tx txn) {
	if e.selectSeq != tx.seq {
		return
	}
	e.selected = tx.selected
	e.content = tx.content
	e.contentLoading = false
	e.selectSeq++
}

// selectLocked sets the selection without loading content and invalidates
// any content read still in flight.
func (e *Explorer) selectLocked(f *models.LogicalFile) {
	e.selected = cloneFile(f)
	e.content = ""
	e.contentLoading = false
	e.selectSeq++
}

// restoreEntries puts the affected entries of snapshot back into current.
// Entries keep their snapshot order; entries of current that the snapshot
// did not have are appended, and entries that left current for another
// reason stay gone.
func restoreEntries(snapshot, current, affected []models.LogicalFile) []models.LogicalFile {
	out := make([]models.LogicalFile, 0, len(current)+len(affected))
	seen := make(map[string]struct{}, len(current)+len(affected))
	for _, f := range snapshot {
		if i := indexOf(current, f.Pathname); i >= 0 {
			out = append(out, current[i])
		} else if containsPath(affected, f.Pathname) {
			out = append(out, f)
		} else {
			continue
		}
		seen[f.Pathname] = struct{}{}
	}
	for _, f := range current {
		if _, ok := seen[f.Pathname]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func (e *Explorer) recordRollback(ctx context.Context, op, p string, err error) {
	metrics.RecordExplorerOperation(op, false)
	metrics.RecordRollback(op)
	logging.WithContext(ctx).Warn("rolled back optimistic change",
		zap.String("op", op), zap.String("path", p), zap.Error(err))
	e.publish(events.Event{Type: events.EventRollback, Op: op, Path: p, Error: err.Error()})
}

func (e *Explorer) markLocked(files []models.LogicalFile) {
	for _, f := range files {
		e.deleting[f.Pathname] = struct{}{}
	}
	metrics.SetDeletingInFlight(len(e.deleting))
}

func (e *Explorer) unmarkLocked(files []models.LogicalFile) {
	for _, f := range files {
		delete(e.deleting, f.Pathname)
	}
	metrics.SetDeletingInFlight(len(e.deleting))
}

func (e *Explorer) deletingLocked() []string {
	out := make([]string, 0, len(e.deleting))
	for p := range e.deleting {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (e *Explorer) publish(ev events.Event) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

func indexOf(files []models.LogicalFile, p string) int {
	return slices.IndexFunc(files, func(f models.LogicalFile) bool { return f.Pathname == p })
}

func containsPath(files []models.LogicalFile, p string) bool {
	return indexOf(files, p) >= 0
}

func pathsOf(files []models.LogicalFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Pathname
	}
	return out
}

func cloneFile(f *models.LogicalFile) *models.LogicalFile {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
