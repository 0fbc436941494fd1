package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/sibyl/internal/adapters/http/api"
	service "github.com/okian/sibyl/internal/app"
	"github.com/okian/sibyl/internal/domain/policy"
	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/feedback"
	"github.com/okian/sibyl/internal/propagate"
	"github.com/okian/sibyl/internal/resolve"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing

type mockService struct {
	ingestErr     error
	ingested      []signal.Signal
	result        resolve.Result
	resolveErr    error
	contributors  []resolve.Contributor
	explainErr    error
	correctionErr error
	corrections   []feedback.Correction
	linkErr       error
	linked        []propagate.Edge
	stats         map[string]interface{}
}

func (m *mockService) Ingest(_ context.Context, s signal.Signal) error {
	if m.ingestErr != nil {
		return m.ingestErr
	}
	m.ingested = append(m.ingested, s)
	return nil
}

func (m *mockService) Resolve(_ context.Context, _ string) (resolve.Result, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return m.result, nil
}

func (m *mockService) Explain(_ context.Context, _ string, _ signal.EntityKind) ([]resolve.Contributor, error) {
	if m.explainErr != nil {
		return nil, m.explainErr
	}
	return m.contributors, nil
}

func (m *mockService) RecordCorrection(_ context.Context, c feedback.Correction) error {
	if m.correctionErr != nil {
		return m.correctionErr
	}
	m.corrections = append(m.corrections, c)
	return nil
}

func (m *mockService) LinkEntities(_, to string, toKind signal.EntityKind, edgeType propagate.EdgeType) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	m.linked = append(m.linked, propagate.Edge{To: to, ToKind: toKind, Type: edgeType})
	return nil
}

func (m *mockService) GetStats() map[string]interface{} {
	if m.stats == nil {
		return map[string]interface{}{"started": true}
	}
	return m.stats
}

func newTestServer(mock *mockService) *httptest.Server {
	mux := http.NewServeMux()
	api.NewServer(mock, mock).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func TestSignalsEndpoint(t *testing.T) {
	Convey("Given a server with a healthy backend", t, func() {
		mock := &mockService{}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When posting a valid signal", func() {
			body := `{
				"subject_id": "meeting-1",
				"entity_id": "acme-corp",
				"entity_kind": "organization",
				"kind": "domain-match",
				"source": "calendar-sync",
				"confidence": 0.5
			}`
			resp, err := http.Post(srv.URL+"/signals", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then it is accepted with a generated id", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				var ack map[string]string
				So(json.NewDecoder(resp.Body).Decode(&ack), ShouldBeNil)
				So(ack["status"], ShouldEqual, "accepted")
				So(ack["id"], ShouldNotBeEmpty)
				So(mock.ingested, ShouldHaveLength, 1)
				So(mock.ingested[0].SubjectID, ShouldEqual, "meeting-1")
			})
		})

		Convey("When posting a signal with an explicit observation time", func() {
			at := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
			body := `{
				"subject_id": "meeting-1",
				"entity_id": "acme-corp",
				"entity_kind": "organization",
				"kind": "keyword-match",
				"source": "mail-sync",
				"confidence": 0.6,
				"observed_at": "` + at + `"
			}`
			resp, err := http.Post(srv.URL+"/signals", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the parsed time is carried on the signal", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(mock.ingested, ShouldHaveLength, 1)
				So(mock.ingested[0].CreatedAt.Before(time.Now().Add(-24*time.Hour)), ShouldBeTrue)
			})
		})

		Convey("When posting malformed JSON", func() {
			resp, err := http.Post(srv.URL+"/signals", "application/json", strings.NewReader(`{not json`))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then it is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When posting a signal with a missing field", func() {
			body := `{"subject_id": "meeting-1", "entity_kind": "organization", "kind": "domain-match", "source": "calendar-sync", "confidence": 0.5}`
			resp, err := http.Post(srv.URL+"/signals", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then it is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(mock.ingested, ShouldBeEmpty)
			})
		})

		Convey("When posting a signal with an out-of-range confidence", func() {
			body := `{"subject_id": "m", "entity_id": "e", "entity_kind": "organization", "kind": "domain-match", "source": "calendar-sync", "confidence": 1.5}`
			resp, err := http.Post(srv.URL+"/signals", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then it is rejected, not clamped", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(mock.ingested, ShouldBeEmpty)
			})
		})

		Convey("When using the wrong method", func() {
			resp, err := http.Get(srv.URL + "/signals")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the route is not found", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a server with a saturated backend", t, func() {
		mock := &mockService{ingestErr: service.ErrQueueFull}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When posting a valid signal", func() {
			body := `{"subject_id": "m", "entity_id": "e", "entity_kind": "organization", "kind": "domain-match", "source": "calendar-sync", "confidence": 0.5}`
			resp, err := http.Post(srv.URL+"/signals", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the caller sees backpressure", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusServiceUnavailable)
				var e map[string]string
				So(json.NewDecoder(resp.Body).Decode(&e), ShouldBeNil)
				So(e["code"], ShouldEqual, "backpressure")
			})
		})
	})
}

func TestResolutionEndpoint(t *testing.T) {
	Convey("Given a server with a known resolution", t, func() {
		mock := &mockService{
			result: resolve.Result{
				signal.KindOrganization: resolve.Resolution{
					SubjectID:  "meeting-1",
					EntityKind: signal.KindOrganization,
					EntityID:   "acme-corp",
					Confidence: 0.56,
					Action:     policy.Suggest,
				},
			},
		}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When fetching the subject's resolution", func() {
			resp, err := http.Get(srv.URL + "/resolution/meeting-1")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the per-kind map is returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var result map[string]resolve.Resolution
				So(json.NewDecoder(resp.Body).Decode(&result), ShouldBeNil)
				So(result["organization"].EntityID, ShouldEqual, "acme-corp")
				So(result["organization"].Action, ShouldEqual, policy.Suggest)
			})
		})

		Convey("When the subject id is missing from the path", func() {
			resp, err := http.Get(srv.URL + "/resolution/")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the path has extra segments", func() {
			resp, err := http.Get(srv.URL + "/resolution/meeting-1/extra")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestExplainEndpoint(t *testing.T) {
	Convey("Given a server with evidence to expose", t, func() {
		mock := &mockService{
			contributors: []resolve.Contributor{
				{SignalID: "sig-1", EntityID: "acme", Source: signal.SourceCalendarSync, Kind: signal.DomainMatch, RawConfidence: 0.5},
			},
		}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When fetching the evidence for a valid kind", func() {
			resp, err := http.Get(srv.URL + "/explain/meeting-1?kind=organization")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the contributors are returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var contribs []resolve.Contributor
				So(json.NewDecoder(resp.Body).Decode(&contribs), ShouldBeNil)
				So(contribs, ShouldHaveLength, 1)
				So(contribs[0].SignalID, ShouldEqual, "sig-1")
			})
		})

		Convey("When the kind is unknown", func() {
			resp, err := http.Get(srv.URL + "/explain/meeting-1?kind=spaceship")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the kind is absent", func() {
			resp, err := http.Get(srv.URL + "/explain/meeting-1")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestCorrectionsEndpoint(t *testing.T) {
	Convey("Given a server accepting corrections", t, func() {
		mock := &mockService{}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When posting a valid correction", func() {
			body := `{
				"id": "corr-1",
				"subject_id": "meeting-1",
				"entity_kind": "organization",
				"old_entity_id": "acme-corp",
				"new_entity_id": "globex"
			}`
			resp, err := http.Post(srv.URL+"/corrections", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then it is recorded", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(mock.corrections, ShouldHaveLength, 1)
				So(mock.corrections[0].NewEntityID, ShouldEqual, "globex")
			})
		})
	})

	Convey("Given a backend that reports a duplicate", t, func() {
		mock := &mockService{correctionErr: feedback.ErrDuplicateCorrection}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When replaying the correction", func() {
			body := `{"id": "corr-1", "subject_id": "meeting-1", "entity_kind": "organization", "new_entity_id": "globex"}`
			resp, err := http.Post(srv.URL+"/corrections", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the caller sees a conflict", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusConflict)
				var e map[string]string
				So(json.NewDecoder(resp.Body).Decode(&e), ShouldBeNil)
				So(e["code"], ShouldEqual, "duplicate")
			})
		})
	})

	Convey("Given a backend that rejects the correction", t, func() {
		mock := &mockService{correctionErr: feedback.ErrMissingNewEntity}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When posting it", func() {
			body := `{"id": "corr-1", "subject_id": "meeting-1", "entity_kind": "organization"}`
			resp, err := http.Post(srv.URL+"/corrections", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the caller sees a bad request", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestEdgesEndpoint(t *testing.T) {
	Convey("Given a server accepting edges", t, func() {
		mock := &mockService{}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When posting a valid edge", func() {
			body := `{"from": "acme-corp", "to": "onboarding", "to_kind": "workstream", "type": "decision-authority"}`
			resp, err := http.Post(srv.URL+"/edges", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the edge is linked", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				So(mock.linked, ShouldHaveLength, 1)
				So(mock.linked[0].To, ShouldEqual, "onboarding")
				So(mock.linked[0].Type, ShouldEqual, propagate.EdgeDecisionAuthority)
			})
		})

		Convey("When posting an edge with an unknown target kind", func() {
			body := `{"from": "acme-corp", "to": "onboarding", "to_kind": "spaceship", "type": "parent"}`
			resp, err := http.Post(srv.URL+"/edges", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(mock.linked, ShouldBeEmpty)
			})
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given a running server", t, func() {
		mock := &mockService{stats: map[string]interface{}{"started": true, "store": "memory"}}
		srv := newTestServer(mock)
		defer srv.Close()

		Convey("When checking health", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the service reports ok", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var health map[string]string
				So(json.NewDecoder(resp.Body).Decode(&health), ShouldBeNil)
				So(health["status"], ShouldEqual, "ok")
			})
		})

		Convey("When fetching stats", func() {
			resp, err := http.Get(srv.URL + "/stats")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the provider's snapshot is returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var stats map[string]interface{}
				So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)
				So(stats["store"], ShouldEqual, "memory")
			})
		})

		Convey("When scraping metrics", func() {
			resp, err := http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()

			Convey("Then the scrape succeeds", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})
	})
}
