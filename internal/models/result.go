package models

// SearchHit is one ranked result: the materialized Memory plus the scores
// that produced its rank, retained for explainability.
type SearchHit struct {
	Memory Memory

	// Score is the RRF score normalized to [0,1] by dividing by the top hit's
	// raw RRF score.
	Score float32
	// RawScore is the unnormalized fused score (sum of 1/(K+rank) terms).
	RawScore float32

	BM25Score    *float32
	VectorScore  *float32
}

// SearchResult is the response to a recall query.
type SearchResult struct {
	Memories        []SearchHit
	TotalCount      int
	Mode            SearchMode
	ExecutionTimeMS int64
}
