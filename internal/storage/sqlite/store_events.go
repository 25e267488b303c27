package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/storage/cursor"
	"github.com/louisbranch/dizzy/internal/storage/filter"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ErrChainBroken indicates a journal entry whose hashes do not verify.
var ErrChainBroken = errors.New("journal chain is broken")

// Entry is one stored journal event.
type Entry struct {
	// Seq is the journal position, independent of the dispatch sequence
	// carried in Event.Seq.
	Seq        uint64
	Event      codec.Envelope
	Hash       string
	PrevHash   string
	ChainHash  string
	RecordedAt time.Time
}

// Appended is the outcome of appending one envelope.
type Appended struct {
	Entry
	// Duplicate is set when an event with the same content hash was already
	// stored; Entry then describes the existing row.
	Duplicate bool
}

// ListRequest selects a page of journal entries.
type ListRequest struct {
	AfterSeq uint64
	Limit    int
	// Filter is an AIP-160 expression over type, correlation_id,
	// causation_id, hash, seq, cycle and ts.
	Filter string
	// PageToken continues a ListPage result issued for the same Filter.
	PageToken string
}

// Page is one ListPage result. NextPageToken is empty on the last page.
type Page struct {
	Entries       []Entry
	NextPageToken string
}

const selectEntryColumns = `seq, event_type, payload_json, correlation_id, causation_id,
    dispatch_seq, cycle, content_hash, prev_chain_hash, chain_hash, recorded_at`

// AppendEvents stores envelopes in order within one transaction.
func (s *Store) AppendEvents(ctx context.Context, envs []codec.Envelope) ([]Appended, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, nil
	}

	type prepared struct {
		env  codec.Envelope
		hash string
	}
	items := make([]prepared, len(envs))
	for i, env := range envs {
		if strings.TrimSpace(env.Type) == "" {
			return nil, fmt.Errorf("event %d: %w", i, codec.ErrEnvelopeInvalid)
		}
		payload, err := codec.CanonicalRaw(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		env.Payload = payload
		hash, err := codec.Hash(env.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("event %d hash: %w", i, err)
		}
		items[i] = prepared{env: env, hash: hash}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	prevChain, err := lastChainHash(ctx, tx)
	if err != nil {
		return nil, err
	}

	recordedAt := s.now().UTC().Truncate(time.Millisecond)
	out := make([]Appended, 0, len(items))
	for i, item := range items {
		existing, err := scanEntry(tx.QueryRowContext(ctx,
			"SELECT "+selectEntryColumns+" FROM events WHERE content_hash = ?", item.hash))
		switch {
		case err == nil:
			out = append(out, Appended{Entry: existing, Duplicate: true})
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("lookup event %d: %w", i, err)
		}

		chain := chainHash(prevChain, item.hash)
		res, err := tx.ExecContext(ctx, `INSERT INTO events (
    event_type, payload_json, correlation_id, causation_id, dispatch_seq, cycle,
    content_hash, prev_chain_hash, chain_hash, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.env.Type,
			string(item.env.Payload),
			item.env.CorrelationID,
			item.env.CausationID,
			int64(item.env.Seq),
			item.env.Cycle,
			item.hash,
			prevChain,
			chain,
			toMillis(recordedAt),
		)
		if err != nil {
			if isConstraintError(err) {
				return nil, fmt.Errorf("append event %d: content hash conflict: %w", i, err)
			}
			return nil, fmt.Errorf("append event %d: %w", i, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("append event %d seq: %w", i, err)
		}

		out = append(out, Appended{Entry: Entry{
			Seq:        uint64(seq),
			Event:      item.env,
			Hash:       item.hash,
			PrevHash:   prevChain,
			ChainHash:  chain,
			RecordedAt: recordedAt,
		}})
		prevChain = chain
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// GetEventByHash returns the entry stored under a content hash.
func (s *Store) GetEventByHash(ctx context.Context, hash string) (Entry, error) {
	if err := s.ready(ctx); err != nil {
		return Entry{}, err
	}
	entry, err := scanEntry(s.sqlDB.QueryRowContext(ctx,
		"SELECT "+selectEntryColumns+" FROM events WHERE content_hash = ?", strings.TrimSpace(hash)))
	if err != nil {
		return Entry{}, fmt.Errorf("get event by hash: %w", err)
	}
	return entry, nil
}

// ListEvents returns entries after req.AfterSeq in journal order.
func (s *Store) ListEvents(ctx context.Context, req ListRequest) ([]Entry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	cond, err := filter.ParseJournal(req.Filter)
	if err != nil {
		return nil, err
	}
	afterSeq := req.AfterSeq
	if req.PageToken != "" {
		c, err := cursor.Resume(req.PageToken, req.Filter)
		if err != nil {
			return nil, err
		}
		afterSeq = max(afterSeq, c.AfterSeq)
	}

	where := filter.SQLCondition{Clause: "seq > ?", Params: []any{int64(afterSeq)}}.And(cond)
	query := fmt.Sprintf("SELECT %s FROM events WHERE %s ORDER BY seq ASC LIMIT %d",
		selectEntryColumns, where.Clause, pageSize(req.Limit))
	return s.queryEntries(ctx, query, where.Params...)
}

// ListPage is ListEvents plus a token for the following page. A full page
// always carries a token, so the last page may come back empty.
func (s *Store) ListPage(ctx context.Context, req ListRequest) (Page, error) {
	entries, err := s.ListEvents(ctx, req)
	if err != nil {
		return Page{}, err
	}
	page := Page{Entries: entries}
	if len(entries) == pageSize(req.Limit) {
		token, err := cursor.Encode(cursor.New(entries[len(entries)-1].Seq, req.Filter))
		if err != nil {
			return Page{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// EventsByTypes returns every entry whose type is one of types, in journal
// order. No types yields no entries.
func (s *Store) EventsByTypes(ctx context.Context, types ...string) ([]Entry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(types))
	params := make([]any, len(types))
	for i, typ := range types {
		placeholders[i] = "?"
		params[i] = typ
	}
	query := fmt.Sprintf("SELECT %s FROM events WHERE event_type IN (%s) ORDER BY seq ASC",
		selectEntryColumns, strings.Join(placeholders, ", "))
	return s.queryEntries(ctx, query, params...)
}

// VerifyChain recomputes every content and chain hash in journal order.
func (s *Store) VerifyChain(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	entries, err := s.queryEntries(ctx, "SELECT "+selectEntryColumns+" FROM events ORDER BY seq ASC")
	if err != nil {
		return err
	}
	prev := ""
	for _, entry := range entries {
		hash, err := codec.Hash(entry.Event.Type, entry.Event.Payload)
		if err != nil {
			return fmt.Errorf("event %d hash: %w", entry.Seq, err)
		}
		if hash != entry.Hash {
			return fmt.Errorf("%w: event %d content hash mismatch", ErrChainBroken, entry.Seq)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: event %d previous hash mismatch", ErrChainBroken, entry.Seq)
		}
		if chainHash(prev, hash) != entry.ChainHash {
			return fmt.Errorf("%w: event %d chain hash mismatch", ErrChainBroken, entry.Seq)
		}
		prev = entry.ChainHash
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry       Entry
		seq         int64
		payload     string
		dispatchSeq int64
		recordedAt  int64
	)
	if err := row.Scan(
		&seq,
		&entry.Event.Type,
		&payload,
		&entry.Event.CorrelationID,
		&entry.Event.CausationID,
		&dispatchSeq,
		&entry.Event.Cycle,
		&entry.Hash,
		&entry.PrevHash,
		&entry.ChainHash,
		&recordedAt,
	); err != nil {
		return Entry{}, err
	}
	entry.Seq = uint64(seq)
	entry.Event.Payload = []byte(payload)
	entry.Event.Seq = uint64(dispatchSeq)
	entry.RecordedAt = fromMillis(recordedAt)
	return entry, nil
}

func lastChainHash(ctx context.Context, tx *sql.Tx) (string, error) {
	var chain string
	err := tx.QueryRowContext(ctx, "SELECT chain_hash FROM events ORDER BY seq DESC LIMIT 1").Scan(&chain)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load previous chain hash: %w", err)
	}
	return chain, nil
}

// chainHash links a content hash to the chain hash before it.
func chainHash(prev, hash string) string {
	sum := sha256.Sum256([]byte(prev + ":" + hash))
	return hex.EncodeToString(sum[:])
}
