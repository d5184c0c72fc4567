package meta

import (
	"sync"
	"testing"
)

type benchDoc struct {
	Tenant  string `dataindexer:"id"`
	Number  int    `dataindexer:"id"`
	Name    string
	Email   string
	Bio     string
	Version int
}

func BenchmarkAnalyze_Cold(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache = sync.Map{}
		Analyze[benchDoc]()
	}
}

func BenchmarkAnalyze_Cached(b *testing.B) {
	Analyze[benchDoc]()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Analyze[benchDoc]()
	}
}

func BenchmarkTuple(b *testing.B) {
	doc := &benchDoc{Tenant: "acme", Number: 42, Name: "Alice"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Tuple(doc); err != nil {
			b.Fatal(err)
		}
	}
}
