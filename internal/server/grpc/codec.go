package grpc

import (
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request fields. Sequence numbers travel as decimal strings; plain
// numbers are accepted for them as well.

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func flag(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

func has(in *structpb.Struct, key string) bool {
	v, ok := in.GetFields()[key]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

// integer reads key as an int64; ok is false when the field is absent.
func integer(in *structpb.Struct, key string) (n int64, ok bool, err error) {
	v, found := in.GetFields()[key]
	if !found {
		return 0, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, false, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, false, common.NewBadRequest(key, "%v is not an integer", f)
		}
		return int64(f), true, nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, false, common.NewBadRequest(key, "%q is not an integer", k.StringValue)
		}
		return n, true, nil
	}
	return 0, false, common.NewBadRequest(key, "must be a number or a decimal string")
}

func stringList(in *structpb.Struct, key string) []string {
	var out []string
	for _, v := range in.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func timestamp(in *structpb.Struct, key string) (time.Time, error) {
	s := str(in, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, common.NewBadRequest(key, "%q is not an RFC 3339 timestamp", s)
	}
	return t, nil
}

func identityFrom(in *structpb.Struct) models.EntryIdentity {
	return models.EntryIdentity{
		Workspace:  str(in, "workspace"),
		Collection: str(in, "collection"),
		EntryID:    str(in, "entry_id"),
		Locale:     str(in, "locale"),
	}
}

func categoriesFrom(in *structpb.Struct) []models.Category {
	var out []models.Category
	for _, v := range in.GetFields()["categories"].GetListValue().GetValues() {
		c := v.GetStructValue()
		out = append(out, models.Category{
			Scheme: str(c, "scheme"),
			Term:   str(c, "term"),
			Label:  str(c, "label"),
		})
	}
	return out
}

func preconditionFrom(in *structpb.Struct) (models.Precondition, error) {
	p := models.Precondition{ETag: str(in, "etag")}
	rev, ok, err := integer(in, "revision")
	if err != nil {
		return p, err
	}
	if ok {
		p.Revision = models.Revision(rev)
	}
	return p, nil
}

// mutationFrom reads a write request; content is sent as text and a
// missing content field keeps the stored body.
func mutationFrom(in *structpb.Struct, author string) (models.Mutation, error) {
	pre, err := preconditionFrom(in)
	if err != nil {
		return models.Mutation{}, err
	}
	m := models.Mutation{
		Identity:     identityFrom(in),
		Precondition: pre,
		Categories:   categoriesFrom(in),
		ContentType:  str(in, "content_type"),
		Author:       author,
	}
	if has(in, "content") {
		m.Content = []byte(str(in, "content"))
	}
	return m, nil
}

func feedRequestFrom(in *structpb.Struct) (models.FeedRequest, error) {
	req := models.FeedRequest{
		Workspace:      str(in, "workspace"),
		Collection:     str(in, "collection"),
		Join:           str(in, "join"),
		JoinWorkspaces: stringList(in, "workspaces"),
		Query:          str(in, "q"),
		ExcludeDeleted: flag(in, "exclude_deleted"),
	}

	var err error
	if req.StartIndex, _, err = integer(in, "start_index"); err != nil {
		return req, err
	}
	end, ok, err := integer(in, "end_index")
	if err != nil {
		return req, err
	}
	if ok {
		req.EndIndex = &end
	}
	size, _, err := integer(in, "max_results")
	if err != nil {
		return req, err
	}
	req.MaxResults = int(size)

	if req.UpdatedMin, err = timestamp(in, "updated_min"); err != nil {
		return req, err
	}
	if req.UpdatedMax, err = timestamp(in, "updated_max"); err != nil {
		return req, err
	}
	return req, nil
}

func batchItemsFrom(in *structpb.Struct, author string) ([]models.BatchItem, error) {
	values := in.GetFields()["items"].GetListValue().GetValues()
	items := make([]models.BatchItem, 0, len(values))
	for _, v := range values {
		m, err := mutationFrom(v.GetStructValue(), author)
		if err != nil {
			return nil, err
		}
		items = append(items, models.BatchItem{
			Op:           models.BatchOp(str(v.GetStructValue(), "op")),
			Identity:     m.Identity,
			Precondition: m.Precondition,
			Categories:   m.Categories,
			Content:      m.Content,
			ContentType:  m.ContentType,
			Author:       m.Author,
		})
	}
	return items, nil
}

// Responses are built as plain maps; structpb.NewStruct accepts only
// string, bool, float64-compatible numbers, []any and map[string]any.

func seq(n int64) string {
	return strconv.FormatInt(n, 10)
}

func encodeIdentity(id models.EntryIdentity) map[string]any {
	out := map[string]any{
		"workspace":  id.Workspace,
		"collection": id.Collection,
		"entry_id":   id.EntryID,
	}
	if id.Locale != "" {
		out["locale"] = id.Locale
	}
	return out
}

func encodeCategories(cs []models.Category) []any {
	out := make([]any, 0, len(cs))
	for _, c := range cs {
		m := map[string]any{"term": c.Term}
		if c.Scheme != "" {
			m["scheme"] = c.Scheme
		}
		if c.Label != "" {
			m["label"] = c.Label
		}
		out = append(out, m)
	}
	return out
}

func encodeEntry(rec *models.EntryRecord) map[string]any {
	out := encodeIdentity(rec.Identity)
	out["revision"] = rec.Revision
	out["etag"] = rec.ETag()
	out["deleted"] = rec.Deleted
	out["sequence"] = seq(rec.Sequence)
	out["categories"] = encodeCategories(rec.Categories)
	out["created_at"] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["updated_at"] = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if rec.Author != "" {
		out["author"] = rec.Author
	}
	if len(rec.ContentDigest) > 0 {
		out["content_digest"] = hex.EncodeToString(rec.ContentDigest)
		out["content_type"] = rec.ContentType
	}
	return out
}

func encodeAggregate(a *models.AggregateEntry) map[string]any {
	members := make([]any, 0, len(a.Members))
	for _, m := range a.Members {
		members = append(members, encodeIdentity(m))
	}
	return map[string]any{
		"join":       a.Join,
		"key":        a.JoinKey,
		"members":    members,
		"categories": encodeCategories(a.Categories),
		"sequence":   seq(a.Sequence),
		"deleted":    a.Deleted,
		"updated_at": a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
