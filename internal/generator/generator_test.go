package generator_test

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/glizzus/opuskit/internal/generator"
)

func TestUUIDV4Generator_Next_Concurrent(t *testing.T) {
	regex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	gen := generator.UUIDV4Generator{}

	var mu sync.Mutex
	seen := make(map[string]struct{})

	total := 100000
	concurrency := 10
	batchSize := total / concurrency

	var wg sync.WaitGroup
	wg.Add(concurrency)

	for range concurrency {
		go func() {
			defer wg.Done()
			for range batchSize {
				id, err := gen.Next()
				if err != nil {
					t.Error("expected no error, got:", err)
					return
				}
				mu.Lock()
				if _, ok := seen[id]; ok {
					mu.Unlock()
					t.Errorf("expected a unique ID, got duplicate: %s", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()

				if !regex.MatchString(id) {
					t.Errorf("expected valid UUID format, got %s", id)
					return
				}
			}
		}()
	}

	wg.Wait()
}

type sequenceGenerator struct{ n int }

func (g *sequenceGenerator) Next() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func TestOutputPathGenerator_Next(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		want string
	}{
		{name: "local directory", dir: "out", want: "out/id-1.opus"},
		{name: "trailing slash", dir: "out/", want: "out/id-1.opus"},
		{name: "object prefix", dir: "s3://media/encoded", want: "s3://media/encoded/id-1.opus"},
		{name: "no directory", dir: "", want: "id-1.opus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := generator.OutputPathGenerator{Dir: tt.dir, Ext: ".opus", IDs: &sequenceGenerator{}}
			got, err := gen.Next()
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOutputPathGenerator_DefaultsToUUIDs(t *testing.T) {
	gen := generator.OutputPathGenerator{Dir: "out", Ext: ".opus"}
	got, err := gen.Next()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !regexp.MustCompile(`^out/[0-9a-f-]{36}\.opus$`).MatchString(got) {
		t.Errorf("expected a UUID named path, got %s", got)
	}
}
