package extract

import (
	"context"
	"time"
)

// NotFoundText is the sentinel result text when a page carries no receipt block.
const NotFoundText = "Nema <pre> tagova"

// TextExtractor turns a receipt source URL into plain receipt text.
type TextExtractor interface {
	Extract(ctx context.Context, url string) (Result, error)
}

type Result struct {
	Text        string
	Found       bool
	SourceURL   string
	Status      int
	Bytes       int
	ArtifactURI string // set when the raw page was snapshotted
	Duration    time.Duration
}
