package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "/usr/local/var/subcog/cache"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/subcog/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Recall.DefaultLimit == 0 {
		cfg.Recall.DefaultLimit = 10
	}
	if cfg.Recall.MaxLimit == 0 {
		cfg.Recall.MaxLimit = 100
	}
	if cfg.Recall.RRFK == 0 {
		cfg.Recall.RRFK = 60
	}
	if cfg.Recall.SummaryMultiplier == 0 {
		cfg.Recall.SummaryMultiplier = 1.15
	}
	if cfg.Recall.Recency24hMultiplier == 0 {
		cfg.Recall.Recency24hMultiplier = 1.10
	}
	if cfg.Recall.RecencyWeekMultiplier == 0 {
		cfg.Recall.RecencyWeekMultiplier = 1.03
	}
	if cfg.Resilience.EmbeddingMaxConcurrent == 0 {
		cfg.Resilience.EmbeddingMaxConcurrent = 2
	}
	if cfg.Resilience.EmbeddingTimeoutSecs == 0 {
		cfg.Resilience.EmbeddingTimeoutSecs = 30
	}
	if cfg.Resilience.LLMMaxConcurrent == 0 {
		cfg.Resilience.LLMMaxConcurrent = 4
	}
	if cfg.Resilience.LLMTimeoutSecs == 0 {
		cfg.Resilience.LLMTimeoutSecs = 30
	}
	if cfg.Resilience.WebhookTimeoutSecs == 0 {
		cfg.Resilience.WebhookTimeoutSecs = 10
	}
	if cfg.Resilience.MaxBatchFetch == 0 {
		cfg.Resilience.MaxBatchFetch = 128
	}
	if cfg.Dedup.SemanticThreshold == 0 {
		cfg.Dedup.SemanticThreshold = 0.92
	}
	if cfg.Dedup.RecentCaptureWindowSecs == 0 {
		cfg.Dedup.RecentCaptureWindowSecs = 300
	}
	if cfg.Dedup.RecentCaptureCacheSize == 0 {
		cfg.Dedup.RecentCaptureCacheSize = 1000
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".json", ".jsonl"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
