package broadcast

import (
	"fmt"
	"log/slog"
	"maps"
	"unicode/utf8"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

const (
	DefaultBudget           = 8000
	DefaultNoticeReserve    = 250
	DefaultStructureReserve = 500
	DefaultMinResult        = 2000

	MetaTruncated        = "broadcast_truncated"
	MetaFullResultLength = "full_result_length"
)

// Payload is the broadcast copy of an execution result.
type Payload struct {
	Result    string          `json:"result"`
	Metadata  map[string]any  `json:"metadata"`
	Sources   []domain.Source `json:"sources"`
	Steps     []domain.Step   `json:"steps"`
	Truncated bool            `json:"-"`
}

// Builder shapes results so they fit under the real-time transport ceiling.
// Truncation only affects the broadcast copy; callers persist the original.
type Builder struct {
	// Budget is the target size in bytes of the whole payload.
	Budget           int
	NoticeReserve    int
	StructureReserve int
	// MinResult is the floor, in characters, kept even when the rest of the payload is large.
	MinResult int
	Logger    *slog.Logger
}

// NewBuilder returns a Builder with the default budget.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{
		Budget:           DefaultBudget,
		NoticeReserve:    DefaultNoticeReserve,
		StructureReserve: DefaultStructureReserve,
		MinResult:        DefaultMinResult,
		Logger:           logger,
	}
}

// Build returns the result and metadata to broadcast. The metadata map passed in
// is never modified.
func (b *Builder) Build(result string, metadata map[string]any, sources []domain.Source, steps []domain.Step) Payload {
	metaSize := jsonSize(metadata)
	sourcesSize := jsonSize(sources)
	stepsSize := jsonSize(steps)
	estimate := len(result) + metaSize + sourcesSize + stepsSize

	out := Payload{Result: result, Metadata: metadata, Sources: sources, Steps: steps}
	if estimate <= b.Budget {
		return out
	}

	maxResult := max(b.MinResult, b.Budget-metaSize-sourcesSize-stepsSize-b.NoticeReserve-b.StructureReserve)
	fullLength := utf8.RuneCountInString(result)

	out.Result = truncateRunes(result, maxResult) + truncationNotice(fullLength, len(sources))
	out.Metadata = maps.Clone(metadata)
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 2)
	}
	out.Metadata[MetaTruncated] = true
	out.Metadata[MetaFullResultLength] = fullLength
	out.Truncated = true
	telemetry.BroadcastTruncationsTotal.Inc()

	if b.Logger != nil {
		log := b.Logger.With(
			slog.Int("estimated_bytes", estimate),
			slog.Int("full_result_length", fullLength),
			slog.Int("max_result_length", maxResult),
		)
		if metaSize+sourcesSize+stepsSize+maxResult > b.Budget {
			log.Warn("broadcast payload still over budget after truncation",
				slog.Int("metadata_bytes", metaSize),
				slog.Int("sources_bytes", sourcesSize),
				slog.Int("steps_bytes", stepsSize),
			)
		} else {
			log.Info("broadcast result truncated")
		}
	}
	return out
}

func truncationNotice(fullLength, sources int) string {
	return fmt.Sprintf(
		"\n\n---\n*Content truncated for real-time delivery. The full result has been saved and will be shown when you reload.* (%d characters, %d sources)",
		fullLength, sources,
	)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func jsonSize(v any) int {
	data, err := Encode(v)
	if err != nil {
		return 0
	}
	return len(data)
}
