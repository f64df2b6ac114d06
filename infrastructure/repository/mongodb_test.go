package repository

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"visitly-go/domain/visit"
)

func TestDefaultMongoDBConfig(t *testing.T) {
	config := DefaultMongoDBConfig()

	if config == nil {
		t.Fatal("DefaultMongoDBConfig returned nil")
	}

	if config.URI != "mongodb://localhost:27017" {
		t.Errorf("URI = %v, want mongodb://localhost:27017", config.URI)
	}

	if config.Database != "visitly" {
		t.Errorf("Database = %v, want visitly", config.Database)
	}

	if config.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", config.ConnectTimeout)
	}

	if config.PingTimeout != 5*time.Second {
		t.Errorf("PingTimeout = %v, want 5s", config.PingTimeout)
	}
}

func TestRedactURI(t *testing.T) {
	tests := []struct {
		uri      string
		expected string
	}{
		{"mongodb://localhost:27017", "mongodb://localhost:27017"},
		{"mongodb://admin:secret@db:27017/visitly", "mongodb://xxxxx@db:27017/visitly"},
		{"://bad", "<unparsable uri>"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := redactURI(tt.uri); got != tt.expected {
				t.Errorf("redactURI() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestVisitDocument_Conversion(t *testing.T) {
	at := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	oid := primitive.NewObjectID()

	doc := &visitDocument{
		ID:          oid,
		RunID:       "run-1",
		Pass:        3,
		Target:      "music.apple.com/x",
		RootDomain:  "apple.com",
		Disposition: "Skipped",
		Attempts:    2,
		Reason:      "out of retries",
		FinishedAt:  at,
	}

	rec := documentToRecord(doc)

	if rec.ID != oid.Hex() {
		t.Errorf("ID = %v, want %v", rec.ID, oid.Hex())
	}
	if rec.RunID != "run-1" || rec.Pass != 3 {
		t.Errorf("RunID/Pass = %v/%v, want run-1/3", rec.RunID, rec.Pass)
	}
	if rec.RootDomain != "apple.com" {
		t.Errorf("RootDomain = %v, want apple.com", rec.RootDomain)
	}
	if rec.Disposition != "Skipped" || rec.Attempts != 2 || rec.Reason != "out of retries" {
		t.Errorf("disposition fields = %+v", rec)
	}

	back := recordToDocument(rec)
	if back.ID != oid {
		t.Errorf("round trip ID = %v, want %v", back.ID, oid)
	}
	if !back.FinishedAt.Equal(at) {
		t.Errorf("FinishedAt = %v, want %v", back.FinishedAt, at)
	}
}

func TestRecordToDocument_NewRecord(t *testing.T) {
	local := time.FixedZone("CET", 3600)
	rec := &visit.Record{Target: "a.example", FinishedAt: time.Date(2025, 1, 1, 13, 0, 0, 0, local)}

	doc := recordToDocument(rec)

	if !doc.ID.IsZero() {
		t.Errorf("ID = %v, want zero for a new record", doc.ID)
	}
	if doc.FinishedAt.Location() != time.UTC {
		t.Errorf("FinishedAt location = %v, want UTC", doc.FinishedAt.Location())
	}
	if doc.FinishedAt.Hour() != 12 {
		t.Errorf("FinishedAt hour = %d, want 12", doc.FinishedAt.Hour())
	}
}

func TestQueryHelpers(t *testing.T) {
	if got := queryLimit(visit.Query{}); got != visit.DefaultLimit {
		t.Errorf("queryLimit() = %d, want %d", got, visit.DefaultLimit)
	}
	if got := queryLimit(visit.Query{Limit: 5}); got != 5 {
		t.Errorf("queryLimit() = %d, want 5", got)
	}

	if f := queryFilter(visit.Query{}); len(f) != 0 {
		t.Errorf("queryFilter() = %v, want empty", f)
	}
	if f := queryFilter(visit.Query{RootDomain: "apple.com"}); f["root_domain"] != "apple.com" {
		t.Errorf("queryFilter() = %v, want root_domain filter", f)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := &MongoDBConfig{URI: "mongodb://db:27017", Database: "v", ConnectTimeout: 7 * time.Second}

	opts := clientOptions(cfg)

	if opts.AppName == nil || *opts.AppName != "visitly" {
		t.Errorf("AppName = %v, want visitly", opts.AppName)
	}
	if opts.ConnectTimeout == nil || *opts.ConnectTimeout != 7*time.Second {
		t.Errorf("ConnectTimeout = %v, want 7s", opts.ConnectTimeout)
	}
	if opts.ServerSelectionTimeout == nil || *opts.ServerSelectionTimeout != 7*time.Second {
		t.Errorf("ServerSelectionTimeout = %v, want 7s", opts.ServerSelectionTimeout)
	}
}
