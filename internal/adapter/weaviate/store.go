package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"askdocs/internal/vector"
)

// Store is a vector.Backend over one Weaviate class.
type Store struct {
	client *weaviate.Client
	class  string
}

func NewStore(client *weaviate.Client, class string) *Store {
	if class == "" {
		class = DefaultClass
	}
	return &Store{client: client, class: class}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, NewClientAdapter(s.client), s.class)
}

// objectID maps a chunk id to a Weaviate object id. Chunk ids are UUIDs
// already; anything else is hashed into one.
func objectID(chunkID string) strfmt.UUID {
	if id, err := uuid.Parse(chunkID); err == nil {
		return strfmt.UUID(id.String())
	}
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

func (s *Store) Upsert(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	objects := make([]*models.Object, len(entries))
	for i, e := range entries {
		objects[i] = &models.Object{
			Class: s.class,
			ID:    objectID(e.ChunkID),
			Properties: map[string]interface{}{
				"chunkId":      e.ChunkID,
				"documentId":   e.DocumentID,
				"ordinal":      e.Ordinal,
				"modelVersion": e.ModelVersion,
			},
			Vector: e.Vector,
		}
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueText(documentID)).
		Do(ctx)
	return err
}

// Search runs a near-vector query. Weaviate reports cosine distance, so the
// score is 1 - distance.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]vector.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "documentId"},
		{Name: "ordinal"},
		{Name: "modelVersion"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []vector.Match
	for _, props := range s.objects(res.Data) {
		m := vector.Match{Score: 1}
		m.ChunkID, _ = props["chunkId"].(string)
		m.DocumentID, _ = props["documentId"].(string)
		m.ModelVersion, _ = props["modelVersion"].(string)
		if ord, ok := props["ordinal"].(float64); ok {
			m.Ordinal = int(ord)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			m.Score = 1 - number(additional["distance"])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := agg[s.class].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	return int(number(meta["count"])), nil
}

// Lookup returns the stored vectors of the given chunks.
func (s *Store) Lookup(ctx context.Context, chunkIDs []string) (map[string]vector.Entry, error) {
	out := make(map[string]vector.Entry, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "documentId"},
		{Name: "ordinal"},
		{Name: "modelVersion"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}},
	}
	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithWhere(filters.Where().
			WithPath([]string{"chunkId"}).
			WithOperator(filters.ContainsAny).
			WithValueText(chunkIDs...)).
		WithLimit(len(chunkIDs)).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	for _, props := range s.objects(res.Data) {
		var e vector.Entry
		e.ChunkID, _ = props["chunkId"].(string)
		e.DocumentID, _ = props["documentId"].(string)
		e.ModelVersion, _ = props["modelVersion"].(string)
		if ord, ok := props["ordinal"].(float64); ok {
			e.Ordinal = int(ord)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if raw, ok := additional["vector"].([]interface{}); ok {
				e.Vector = make([]float32, len(raw))
				for i, v := range raw {
					e.Vector[i] = number(v)
				}
			}
		}
		if e.ChunkID != "" {
			out[e.ChunkID] = e
		}
	}
	return out, nil
}

func (s *Store) objects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[s.class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

// number reads a GraphQL scalar that may arrive as a JSON number or a string.
func number(v interface{}) float32 {
	switch n := v.(type) {
	case float64:
		return float32(n)
	case string:
		f, err := strconv.ParseFloat(n, 32)
		if err != nil {
			return 0
		}
		return float32(f)
	default:
		return 0
	}
}
