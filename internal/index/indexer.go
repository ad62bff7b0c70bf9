// Package index implements the message search pipeline: a single-consumer
// actor goroutine that owns an uncommitted bleve batch, flushing it to the
// underlying full-text index once a configurable number of pending messages
// accumulates, and recording a little-endian journal record after every
// commit so a crash between commits can be recovered from exactly where it
// left off. This mirrors server.rs's MessageServer actor (add_message_to_writer,
// log_last_message, setup_index's crash recovery), with bleve/v2 standing in
// for Tantivy's IndexWriter the way internal/search/bleve.go in the
// RemedyIQ pack uses it for tenant-scoped log search.
package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/nexushub/server/internal/channel"
	"github.com/nexushub/server/internal/errkind"
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/message"
)

// DefaultCommitThreshold is how many pending (uncommitted) messages
// accumulate before the indexer flushes its batch, matching the original
// default of T=10.
const DefaultCommitThreshold = 10

// journalFileName is the journal's path relative to the index directory.
const journalFileName = "index.journal"

type indexRequest struct {
	msg  message.Message
	done chan error
}

// SearchResult is a single match returned from a search request.
type SearchResult struct {
	MessageID id.ID
	Score     float64
}

type searchRequest struct {
	query  string
	limit  int
	result chan searchResponse
}

type searchResponse struct {
	hits []SearchResult
	err  error
}

// MessageIndexer owns the full-text index for one channel's messages. It is
// scoped per (hub, channel) rather than per hub, matching the on-disk layout
// under data/hubs/info/<hub-hex>/<channel-hex>/index: a hub-wide index would
// share a single journaled cursor across every channel's independent log,
// and channel.Log.RangeFrom returns nothing at all when a cursor ID belongs
// to a different log than the one it is asked to scan — a hub-wide indexer
// would silently stop recovering every channel but the one that happened to
// hold the last globally-indexed message. It is a single-consumer actor:
// every mutation (index, search, shutdown) is a request sent over a channel
// and processed by one goroutine, so the uncommitted batch and pending
// counter never need their own lock.
type MessageIndexer struct {
	dataDir         string
	hubID           id.ID
	channelID       id.ID
	commitThreshold int

	idx bleve.Index

	requests chan any
	stopped  chan struct{}
	stopOnce sync.Once
}

// New opens or creates the bleve index for (hubID, channelID) under dataDir,
// performs crash recovery (replaying that channel's log entries committed
// since the last journal checkpoint), and starts the actor goroutine.
// Callers must call Shutdown to flush and stop it.
func New(ctx context.Context, dataDir string, hubID, channelID id.ID, commitThreshold int) (*MessageIndexer, error) {
	if commitThreshold <= 0 {
		commitThreshold = DefaultCommitThreshold
	}

	indexPath := indexDir(dataDir, hubID, channelID)
	if err := os.MkdirAll(indexPath, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, "create index dir", err)
	}

	idx, err := bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildMapping())
		if err != nil {
			return nil, errkind.Wrap(errkind.KindInternal, "create bleve index", err)
		}
	}

	mi := &MessageIndexer{
		dataDir:         dataDir,
		hubID:           hubID,
		channelID:       channelID,
		commitThreshold: commitThreshold,
		idx:             idx,
		requests:        make(chan any, 256),
		stopped:         make(chan struct{}),
	}

	if err := mi.recover(dataDir, hubID, channelID); err != nil {
		idx.Close()
		return nil, err
	}

	go mi.run()
	return mi, nil
}

func indexDir(dataDir string, hubID, channelID id.ID) string {
	return filepath.Join(dataDir, "hubs", "info", hubID.Hex(), channelID.Hex(), "index")
}

func journalPath(dataDir string, hubID, channelID id.ID) string {
	return filepath.Join(indexDir(dataDir, hubID, channelID), journalFileName)
}

func buildMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()
	content.Analyzer = "standard"
	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("hub_id", keyword)
	doc.AddFieldMappingsAt("channel_id", keyword)
	doc.AddFieldMappingsAt("sender", keyword)
	doc.AddFieldMappingsAt("created_at_ms", numeric)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// recover replays this channel's log entries appended after the last
// journaled message ID (the whole log when no journal exists yet),
// re-decoding and re-indexing them into a fresh batch which is committed
// immediately. It reads only this channel's journal and log, so a cursor
// never gets applied against the wrong log; the hub JSON is not loaded. Entries
// whose signature cannot be verified are not the indexer's concern here
// (that check happens before an entry is appended to the channel log);
// recovery only needs to decode the stored envelope to extract searchable
// content.
func (mi *MessageIndexer) recover(dataDir string, hubID, channelID id.ID) error {
	lastID, _, hasJournal := readJournal(dataDir, hubID, channelID)

	log, err := channel.Open(dataDir, hubID, channelID)
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, "open channel log during recovery", err)
	}

	var entries []channel.Entry
	if hasJournal {
		entries, err = log.RangeFrom(lastID)
	} else {
		entries, err = log.All()
	}
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, "read channel log during recovery", err)
	}

	batch := mi.idx.NewBatch()
	var newest id.ID
	haveNewest := false
	for _, e := range entries {
		indexEntryIntoBatch(batch, hubID, channelID, e)
		newest = e.ID
		haveNewest = true
	}

	if err := mi.idx.Batch(batch); err != nil {
		return errkind.Wrap(errkind.KindInternal, "commit recovery batch", err)
	}

	if haveNewest {
		if err := writeJournal(dataDir, hubID, channelID, newest); err != nil {
			return err
		}
	}
	return nil
}

func indexEntryIntoBatch(batch *bleve.Batch, hubID, channelID id.ID, e channel.Entry) {
	// The channel log stores the armored, signed envelope; recovery does
	// not re-verify signatures (that already happened before the append),
	// it only needs a best-effort searchable surface. When the envelope is
	// not a bare JSON message body (e.g. still armored), index it verbatim
	// as content so search degrades gracefully rather than failing.
	doc := map[string]any{
		"content":       e.ArmoredMessage,
		"hub_id":        hubID.String(),
		"channel_id":    channelID.String(),
		"created_at_ms": float64(e.CreatedAtMs),
	}
	if decoded, err := message.Decode([]byte(e.ArmoredMessage)); err == nil {
		doc["content"] = decoded.Content
		doc["sender"] = decoded.Sender.String()
	}
	batch.Index(e.ID.String(), doc)
}

func readJournal(dataDir string, hubID, channelID id.ID) (lastID id.ID, committedAtMs int64, ok bool) {
	data, err := os.ReadFile(journalPath(dataDir, hubID, channelID))
	if err != nil {
		return id.Nil, 0, false
	}
	return id.DecodeJournal(data)
}

func writeJournal(dataDir string, hubID, channelID id.ID, lastID id.ID) error {
	rec := id.EncodeJournal(lastID, time.Now().UnixMilli())
	tmp := journalPath(dataDir, hubID, channelID) + ".tmp"
	if err := os.WriteFile(tmp, rec[:], 0o644); err != nil {
		return errkind.Wrap(errkind.KindInternal, "write journal temp file", err)
	}
	if err := os.Rename(tmp, journalPath(dataDir, hubID, channelID)); err != nil {
		return errkind.Wrap(errkind.KindInternal, "rename journal into place", err)
	}
	return nil
}

// run is the actor's single consumer loop: every request is handled
// sequentially, so the uncommitted batch and its pending count are only
// ever touched from this goroutine.
func (mi *MessageIndexer) run() {
	batch := mi.idx.NewBatch()
	pending := 0
	var lastIndexed id.ID
	haveLastIndexed := false

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := mi.idx.Batch(batch); err != nil {
			return errkind.Wrap(errkind.KindInternal, "commit index batch", err)
		}
		batch = mi.idx.NewBatch()
		pending = 0
		if haveLastIndexed {
			return writeJournal(mi.dataDir, mi.hubID, mi.channelID, lastIndexed)
		}
		return nil
	}

	for req := range mi.requests {
		switch r := req.(type) {
		case *indexRequest:
			doc := map[string]any{
				"content":       r.msg.Content,
				"hub_id":        r.msg.HubID.String(),
				"channel_id":    mi.channelID.String(),
				"sender":        r.msg.Sender.String(),
				"created_at_ms": float64(r.msg.CreatedAtMs),
			}
			batch.Index(r.msg.ID.String(), doc)
			pending++
			lastIndexed = r.msg.ID
			haveLastIndexed = true

			var err error
			if pending >= mi.commitThreshold {
				err = flush()
			}
			r.done <- err

		case *searchRequest:
			// Force-flush before search so results reflect every indexed
			// message, matching Handler<SearchMessageIndex>'s flush-then-search.
			if err := flush(); err != nil {
				r.result <- searchResponse{err: err}
				continue
			}
			hits, err := mi.search(r)
			r.result <- searchResponse{hits: hits, err: err}

		case chan error:
			// Shutdown request: best-effort final commit, matching
			// Actor::stopped's try-to-commit-on-stop behavior.
			r <- flush()
			close(mi.stopped)
			if err := mi.idx.Close(); err != nil {
				// Nothing further to report to; shutdown has already
				// signaled completion to the caller.
				_ = err
			}
			return
		}
	}
}

func (mi *MessageIndexer) search(r *searchRequest) ([]SearchResult, error) {
	chQuery := bleve.NewTermQuery(mi.channelID.String())
	chQuery.SetField("channel_id")
	q := bleve.NewConjunctionQuery(bleve.NewMatchQuery(r.query), chQuery)

	req := bleve.NewSearchRequest(q)
	req.Size = r.limit
	res, err := mi.idx.Search(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInternal, "execute search", err)
	}

	out := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		msgID, err := id.Parse(hit.ID)
		if err != nil {
			continue
		}
		out = append(out, SearchResult{MessageID: msgID, Score: hit.Score})
	}
	return out, nil
}

// IndexMessage enqueues msg for indexing, blocking until the actor has
// accepted it (not necessarily committed — only flushed once the commit
// threshold is reached, a Search runs, or Shutdown is called).
func (mi *MessageIndexer) IndexMessage(ctx context.Context, msg message.Message) error {
	done := make(chan error, 1)
	req := &indexRequest{msg: msg, done: done}

	select {
	case mi.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-mi.stopped:
		return errkind.New(errkind.KindUnavailable, "indexer is shutting down")
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search runs a content query scoped to this indexer's channel.
func (mi *MessageIndexer) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	result := make(chan searchResponse, 1)
	req := &searchRequest{query: query, limit: limit, result: result}

	select {
	case mi.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-mi.stopped:
		return nil, errkind.New(errkind.KindUnavailable, "indexer is shutting down")
	}

	select {
	case resp := <-result:
		return resp.hits, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown requests a best-effort final commit and stops the actor
// goroutine. It is idempotent: calling it more than once is safe.
func (mi *MessageIndexer) Shutdown(ctx context.Context) error {
	var shutdownErr error
	mi.stopOnce.Do(func() {
		done := make(chan error, 1)
		select {
		case mi.requests <- (chan error)(done):
			close(mi.requests)
		case <-ctx.Done():
			shutdownErr = ctx.Err()
			return
		}
		select {
		case shutdownErr = <-done:
		case <-ctx.Done():
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}
