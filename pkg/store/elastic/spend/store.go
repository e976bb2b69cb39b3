package spend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/qa-infra/burner/pkg/models/store"
)

// Store keeps one running-total document per user per ISO week. AddSpend is
// at-least-once: every collector run adds its snapshot delta, so re-running
// inside one week adds another increment.
type Store interface {
	EnsureIndex(ctx context.Context) error
	AddSpend(ctx context.Context, user string, delta float64) error
	TopSpenders(ctx context.Context, limit int) ([]store.UserSpend, error)
}

type Settings struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string

	// Transport overrides the HTTP layer, used by tests.
	Transport http.RoundTripper
	// Now overrides the clock used to derive the weekly index name.
	Now func() time.Time
}

type esStore struct {
	es     *elasticsearch.Client
	prefix string
	now    func() time.Time
}

func NewStore(s Settings) (Store, error) {
	if len(s.Addresses) == 0 {
		return nil, fmt.Errorf("at least one elasticsearch address is required")
	}
	if s.IndexPrefix == "" {
		s.IndexPrefix = "burner"
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: s.Addresses,
		Username:  s.Username,
		Password:  s.Password,
		Transport: s.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &esStore{es: es, prefix: s.IndexPrefix, now: s.Now}, nil
}

// index is computed at call time, so a run that straddles a week boundary
// writes into the week current at the moment of the write.
func (s *esStore) index() string {
	_, week := s.now().ISOWeek()
	return fmt.Sprintf("%s_w%d", s.prefix, week)
}

const indexBody = `{
	"settings": {"number_of_shards": 1, "number_of_replicas": 0},
	"mappings": {
		"dynamic": "strict",
		"properties": {
			"user": {"type": "keyword"},
			"total_spent": {"type": "float"}
		}
	}
}`

func (s *esStore) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Create(
		s.index(),
		s.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexBody))),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index(), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if errorType(res) == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("create index %s: %s", s.index(), res.String())
	}
	return nil
}

// AddSpend accumulates delta into the user's weekly total. The document id is
// the user name, which makes one document per (user, week) a store-level
// guarantee. refresh=true gives the sender read-your-writes.
func (s *esStore) AddSpend(ctx context.Context, user string, delta float64) error {
	body, err := json.Marshal(map[string]any{
		"script": map[string]any{
			"source": "ctx._source.total_spent += params.delta",
			"lang":   "painless",
			"params": map[string]any{"delta": delta},
		},
		"upsert": store.UserSpend{User: user, TotalSpent: delta},
	})
	if err != nil {
		return fmt.Errorf("marshal spend update: %w", err)
	}

	res, err := s.es.Update(
		s.index(),
		user,
		bytes.NewReader(body),
		s.es.Update.WithContext(ctx),
		s.es.Update.WithRefresh("true"),
		s.es.Update.WithRetryOnConflict(3),
	)
	if err != nil {
		return fmt.Errorf("update spend for %s: %w", user, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("update spend for %s: %s", user, res.String())
	}
	return nil
}

// TopSpenders returns up to limit records for the current week, highest total
// first. A missing index means nothing was collected yet and yields an empty
// result rather than an error.
func (s *esStore) TopSpenders(ctx context.Context, limit int) ([]store.UserSpend, error) {
	body, err := json.Marshal(map[string]any{
		"size":  limit,
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []any{map[string]any{"total_spent": map[string]string{"order": "desc"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal spend query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithIndex(s.index()),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("query spend: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("query spend: %s", res.String())
	}

	var payload struct {
		Hits struct {
			Hits []struct {
				Source store.UserSpend `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode spend query response: %w", err)
	}

	records := make([]store.UserSpend, 0, len(payload.Hits.Hits))
	for _, hit := range payload.Hits.Hits {
		records = append(records, hit.Source)
	}
	return records, nil
}

func errorType(res *esapi.Response) string {
	var payload struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error.Type
}
