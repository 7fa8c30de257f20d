package retriever

import (
	"context"
	"reflect"
	"testing"

	"tabula/dataset"
)

func waterTable() *dataset.Table {
	return &dataset.Table{
		Columns: []string{"pH", "temp"},
		Rows: [][]string{
			{"6.5", "20.1"},
			{"7.1", "19.8"},
		},
	}
}

func ordersTable() *dataset.Table {
	return &dataset.Table{
		Columns: []string{"status"},
		Rows: [][]string{
			{"pending"},
			{"shipped"},
			{"pending"},
		},
	}
}

func TestLexicalRetrieveByColumnName(t *testing.T) {
	r := NewLexicalRetriever(0)
	r.AddTable("water.csv", waterTable())
	r.AddTable("orders.csv", ordersTable())

	docs, err := r.Retrieve(context.Background(), "What is the highest pH?")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("Retrieve() returned no docs")
	}
	if docs[0].Column != "pH" || docs[0].FileName != "water.csv" {
		t.Errorf("Retrieve()[0] = %+v, want pH from water.csv", docs[0])
	}
	if docs[0].Dtype != "float64" {
		t.Errorf("Dtype = %q, want %q", docs[0].Dtype, "float64")
	}
}

func TestLexicalRetrieveByValue(t *testing.T) {
	r := NewLexicalRetriever(0)
	r.AddTable("water.csv", waterTable())
	r.AddTable("orders.csv", ordersTable())

	docs, err := r.Retrieve(context.Background(), "count shipped")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Column != "status" {
		t.Fatalf("Retrieve() = %+v, want the status column only", docs)
	}
}

func TestLexicalRetrieveTopK(t *testing.T) {
	r := NewLexicalRetriever(1)
	r.AddTable("sales.csv", &dataset.Table{
		Columns: []string{"sales", "sales_total"},
		Rows:    [][]string{{"10", "100"}, {"20", "200"}},
	})

	docs, err := r.Retrieve(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Retrieve() returned %d docs, want 1", len(docs))
	}
}

func TestLexicalRetrieveNoMatch(t *testing.T) {
	r := NewLexicalRetriever(0)
	r.AddTable("water.csv", waterTable())

	tests := []struct {
		name  string
		query string
	}{
		{"no usable terms", "is the a"},
		{"empty query", ""},
		{"unrelated terms", "zzz qqq"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := r.Retrieve(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if docs != nil {
				t.Errorf("Retrieve(%q) = %+v, want nil", tt.query, docs)
			}
		})
	}
}

func TestLexicalRetrieveReplacesFile(t *testing.T) {
	r := NewLexicalRetriever(0)
	r.AddTable("water.csv", waterTable())
	r.AddTable("water.csv", &dataset.Table{
		Columns: []string{"salinity"},
		Rows:    [][]string{{"33.1"}, {"34.8"}},
	})

	docs, err := r.Retrieve(context.Background(), "pH")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if docs != nil {
		t.Errorf("Retrieve() after re-index = %+v, want nil", docs)
	}

	docs, err = r.Retrieve(context.Background(), "salinity")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Column != "salinity" {
		t.Errorf("Retrieve() = %+v, want the salinity column", docs)
	}
}

func TestLexicalRetrieveCancelled(t *testing.T) {
	r := NewLexicalRetriever(0)
	r.AddTable("water.csv", waterTable())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Retrieve(ctx, "pH"); err == nil {
		t.Error("Retrieve() with cancelled context returned nil error")
	}
}

func TestQueryTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"strips stopwords", "What is the highest pH?", []string{"highest", "pH"}},
		{"keeps digits", "GDP growth by 2024", []string{"GDP", "growth", "2024"}},
		{"drops single runes", "a b I 温", nil},
		{"cjk terms", "温度 趋势", []string{"温度", "趋势"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queryTerms(tt.query)
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("queryTerms(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
