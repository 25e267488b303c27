package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/storage/cursor"
	"github.com/louisbranch/dizzy/internal/storage/filter"
)

func envelope(typ, payload string) codec.Envelope {
	return codec.Envelope{Type: typ, Payload: json.RawMessage(payload)}
}

func TestAppendEventsAssignsSeqAndChain(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := openTempStore(t, WithClock(fixedClock(at)))
	ctx := context.Background()

	got, err := store.AppendEvents(ctx, []codec.Envelope{
		{Type: "todo.added", Payload: json.RawMessage(`{"title":"milk","id":"a"}`), CorrelationID: "run-1", CausationID: "command/1", Seq: 2, Cycle: 1},
		envelope("todo.added", `{"id":"b","title":"eggs"}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("appended = %d, want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", got[0].Seq, got[1].Seq)
	}
	if got[0].Duplicate || got[1].Duplicate {
		t.Fatal("fresh events should not be duplicates")
	}
	if got[0].PrevHash != "" {
		t.Fatalf("first prev hash = %q, want empty", got[0].PrevHash)
	}
	if got[1].PrevHash != got[0].ChainHash {
		t.Fatalf("second prev hash = %q, want %q", got[1].PrevHash, got[0].ChainHash)
	}
	if string(got[0].Event.Payload) != `{"id":"a","title":"milk"}` {
		t.Fatalf("payload = %s, want canonical form", got[0].Event.Payload)
	}
	if !got[0].RecordedAt.Equal(at) {
		t.Fatalf("recorded at = %v, want %v", got[0].RecordedAt, at)
	}

	listed, err := store.ListEvents(ctx, ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Entry{got[0].Entry, got[1].Entry}
	if diff := cmp.Diff(want, listed); diff != "" {
		t.Fatalf("listed mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendEventsChainsAcrossBatches(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.added", `{"id":"a"}`)})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.added", `{"id":"b"}`)})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second[0].PrevHash != first[0].ChainHash {
		t.Fatalf("prev hash = %q, want %q", second[0].PrevHash, first[0].ChainHash)
	}
	if err := store.VerifyChain(ctx); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestAppendEventsReportsDuplicates(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.completed", `{"id":"a"}`)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	again, err := store.AppendEvents(ctx, []codec.Envelope{
		envelope("todo.completed", `{ "id" : "a" }`),
		envelope("todo.completed", `{"id":"b"}`),
		envelope("todo.completed", `{"id":"b"}`),
	})
	if err != nil {
		t.Fatalf("append again: %v", err)
	}
	if !again[0].Duplicate || again[0].Seq != first[0].Seq {
		t.Fatalf("first item = %+v, want duplicate of seq %d", again[0], first[0].Seq)
	}
	if again[1].Duplicate {
		t.Fatal("new event reported as duplicate")
	}
	if !again[2].Duplicate || again[2].Seq != again[1].Seq {
		t.Fatalf("in-batch repeat = %+v, want duplicate of seq %d", again[2], again[1].Seq)
	}

	listed, err := store.ListEvents(ctx, ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("stored = %d, want 2", len(listed))
	}
}

func TestAppendEventsRejectsInvalidEnvelope(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, []codec.Envelope{{Payload: json.RawMessage(`{}`)}}); !errors.Is(err, codec.ErrEnvelopeInvalid) {
		t.Fatalf("err = %v, want ErrEnvelopeInvalid", err)
	}
	if _, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.added", `{`)}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	listed, err := store.ListEvents(ctx, ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("stored = %d, want 0", len(listed))
	}
}

func TestListEventsPagesAndFilters(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, []codec.Envelope{
		{Type: "todo.added", Payload: json.RawMessage(`{"id":"a"}`), CorrelationID: "run-1", Cycle: 1},
		{Type: "todo.completed", Payload: json.RawMessage(`{"id":"a"}`), CorrelationID: "run-1", Cycle: 2},
		{Type: "todo.added", Payload: json.RawMessage(`{"id":"b"}`), CorrelationID: "run-2", Cycle: 1},
		{Type: "todo.deleted", Payload: json.RawMessage(`{"id":"a"}`), CorrelationID: "run-2", Cycle: 1},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	tests := []struct {
		name string
		req  ListRequest
		want []uint64
	}{
		{name: "all", req: ListRequest{}, want: []uint64{1, 2, 3, 4}},
		{name: "after", req: ListRequest{AfterSeq: 2}, want: []uint64{3, 4}},
		{name: "limit", req: ListRequest{Limit: 3}, want: []uint64{1, 2, 3}},
		{name: "type", req: ListRequest{Filter: `type = "todo.added"`}, want: []uint64{1, 3}},
		{name: "prefix", req: ListRequest{Filter: `type = "todo.a*" OR type = "todo.d*"`}, want: []uint64{1, 3, 4}},
		{name: "correlation and cycle", req: ListRequest{Filter: `correlation_id = "run-1" AND cycle > 1`}, want: []uint64{2}},
		{name: "filter with after", req: ListRequest{AfterSeq: 1, Filter: `correlation_id = "run-1"`}, want: []uint64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.ListEvents(ctx, tt.req)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var got []uint64
			for _, e := range entries {
				got = append(got, e.Seq)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("seqs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListEventsFiltersByTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := openTempStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.added", `{"id":"a"}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.added", `{"id":"b"}`)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := store.ListEvents(ctx, ListRequest{Filter: `ts >= timestamp("2026-03-01T12:30:00Z")`})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Seq != 2 {
		t.Fatalf("entries = %+v, want only seq 2", entries)
	}
}

func TestListEventsRejectsBadFilter(t *testing.T) {
	store := openTempStore(t)
	if _, err := store.ListEvents(context.Background(), ListRequest{Filter: `unknown = "x"`}); !errors.Is(err, filter.ErrInvalid) {
		t.Fatalf("err = %v, want filter.ErrInvalid", err)
	}
}

func TestListPageFollowsTokens(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	var envs []codec.Envelope
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		envs = append(envs, envelope("todo.added", `{"id":"`+id+`"}`))
	}
	envs = append(envs, envelope("todo.deleted", `{"id":"a"}`))
	if _, err := store.AppendEvents(ctx, envs); err != nil {
		t.Fatalf("append: %v", err)
	}

	req := ListRequest{Limit: 2, Filter: `type = "todo.added"`}
	var pages [][]uint64
	for {
		page, err := store.ListPage(ctx, req)
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		var seqs []uint64
		for _, e := range page.Entries {
			seqs = append(seqs, e.Seq)
		}
		pages = append(pages, seqs)
		if page.NextPageToken == "" {
			break
		}
		req.PageToken = page.NextPageToken
	}
	want := [][]uint64{{1, 2}, {3, 4}, {5}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}

	first, err := store.ListPage(ctx, ListRequest{Limit: 2, Filter: `type = "todo.added"`})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	_, err = store.ListPage(ctx, ListRequest{Limit: 2, Filter: `type = "todo.deleted"`, PageToken: first.NextPageToken})
	if !errors.Is(err, cursor.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for changed filter", err)
	}
}

func TestEventsByTypes(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, []codec.Envelope{
		envelope("todo.added", `{"id":"a"}`),
		envelope("todo.completed", `{"id":"a"}`),
		envelope("todo.deleted", `{"id":"a"}`),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := store.EventsByTypes(ctx, "todo.deleted", "todo.added")
	if err != nil {
		t.Fatalf("events by types: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Event.Type)
	}
	if diff := cmp.Diff([]string{"todo.added", "todo.deleted"}, got); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}

	none, err := store.EventsByTypes(ctx)
	if err != nil {
		t.Fatalf("events by no types: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("entries = %d, want 0", len(none))
	}
}

func TestGetEventByHash(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	appended, err := store.AppendEvents(ctx, []codec.Envelope{envelope("todo.added", `{"id":"a"}`)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.GetEventByHash(ctx, appended[0].Hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.Seq != appended[0].Seq {
		t.Fatalf("seq = %d, want %d", got.Seq, appended[0].Seq)
	}
	if _, err := store.GetEventByHash(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing hash")
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, []codec.Envelope{
		envelope("todo.added", `{"id":"a"}`),
		envelope("todo.added", `{"id":"b"}`),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.sqlDB.ExecContext(ctx, `UPDATE events SET payload_json = '{"id":"z"}' WHERE seq = 1`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := store.VerifyChain(ctx); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("err = %v, want ErrChainBroken", err)
	}
}
