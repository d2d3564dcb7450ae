package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GRPCServer) reply(ctx context.Context, op string, out map[string]any) (*structpb.Struct, error) {
	res, err := structpb.NewStruct(out)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return res, nil
}

func (s *GRPCServer) GetEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	ec, err := s.entries.Content(ctx, identityFrom(in))
	if err != nil {
		return nil, s.fail(ctx, "get entry", err)
	}

	out := encodeEntry(ec.Record)
	if ec.Data != nil {
		out["content"] = string(ec.Data)
	}
	return s.reply(ctx, "get entry", out)

}

// PutEntry creates or updates an entry; with create_only set it fails on
// any existing record.
func (s *GRPCServer) PutEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	m, err := mutationFrom(in, authorFrom(ctx))
	if err != nil {
		return nil, s.fail(ctx, "put entry", err)
	}

	var rec *models.EntryRecord
	if flag(in, "create_only") {
		rec, err = s.entries.Insert(ctx, m)
	} else {
		rec, err = s.entries.Mutate(ctx, m)
	}
	if err != nil {
		return nil, s.fail(ctx, "put entry", err)
	}

	return s.reply(ctx, "put entry", encodeEntry(rec))

}

func (s *GRPCServer) DeleteEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	pre, err := preconditionFrom(in)
	if err != nil {
		return nil, s.fail(ctx, "delete entry", err)
	}

	rec, err := s.entries.Mutate(ctx, models.Mutation{
		Identity:     identityFrom(in),
		Precondition: pre,
		Categories:   categoriesFrom(in),
		Delete:       true,
		Author:       authorFrom(ctx),
	})
	if err != nil {
		return nil, s.fail(ctx, "delete entry", err)
	}

	return s.reply(ctx, "delete entry", encodeEntry(rec))

}

func (s *GRPCServer) GetFeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	req, err := feedRequestFrom(in)
	if err != nil {
		return nil, s.fail(ctx, "get feed", err)
	}

	page, err := s.feeds.Entries(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, "get feed", err)
	}

	entries := make([]any, 0, len(page.Entries))
	for _, rec := range page.Entries {
		entries = append(entries, encodeEntry(rec))
	}
	return s.reply(ctx, "get feed", map[string]any{
		"entries":   entries,
		"end_index": seq(page.EndIndex),
	})

}

func (s *GRPCServer) GetAggregate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	agg, err := s.aggregates.Select(ctx, str(in, "join"), str(in, "key"), stringList(in, "workspaces"))
	if err != nil {
		return nil, s.fail(ctx, "get aggregate", err)
	}

	return s.reply(ctx, "get aggregate", encodeAggregate(agg))

}

func (s *GRPCServer) GetAggregateFeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	req, err := feedRequestFrom(in)
	if err != nil {
		return nil, s.fail(ctx, "get aggregate feed", err)
	}
	if req.Join == "" {
		return nil, s.fail(ctx, "get aggregate feed", common.NewBadRequest("join", "must not be empty"))
	}

	page, err := s.feeds.Aggregates(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, "get aggregate feed", err)
	}

	aggs := make([]any, 0, len(page.Aggregates))
	for _, a := range page.Aggregates {
		aggs = append(aggs, encodeAggregate(a))
	}
	return s.reply(ctx, "get aggregate feed", map[string]any{
		"aggregates": aggs,
		"end_index":  seq(page.EndIndex),
	})

}

// Batch reports a result per item; only a rejected batch fails the call.
func (s *GRPCServer) Batch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	items, err := batchItemsFrom(in, authorFrom(ctx))
	if err != nil {
		return nil, s.fail(ctx, "batch", err)
	}

	results, err := s.batch.Apply(ctx, items)
	if err != nil {
		return nil, s.fail(ctx, "batch", err)
	}

	out := make([]any, 0, len(results))
	for _, r := range results {
		item := map[string]any{"index": r.Index}
		if r.Err != nil {
			item["error"] = encodeItemError(r.Err)
		} else {
			item["entry"] = encodeEntry(r.Record)
		}
		out = append(out, item)
	}
	return s.reply(ctx, "batch", map[string]any{"results": out})

}

func encodeItemError(err error) map[string]any {
	code := statusCode(err)
	out := map[string]any{
		"code":    code.String(),
		"message": err.Error(),
	}
	if code == codes.Internal {
		out["message"] = "internal error"
	}
	var dup *common.DuplicateInBatchError
	if errors.As(err, &dup) {
		out["first_index"] = dup.FirstIndex
	}
	var conflict *common.ConflictError
	if errors.As(err, &conflict) {
		out["actual_revision"] = conflict.ActualRevision
		if conflict.ActualETag != "" {
			out["actual_etag"] = conflict.ActualETag
		}
	}
	return out
}

func (s *GRPCServer) Obliterate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	id := identityFrom(in)
	if err := s.entries.Obliterate(ctx, id); err != nil {
		return nil, s.fail(ctx, "obliterate", err)
	}

	s.logger.Info(ctx, "Obliterated", "identity", id.Key(), "author", authorFrom(ctx))
	return s.reply(ctx, "obliterate", map[string]any{})

}
