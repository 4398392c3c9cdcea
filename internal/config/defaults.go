package config

// Default similarity threshold for accepting a semantic section match. The
// value is a policy choice, not a derived constant; override it per
// deployment through matching.accept_threshold.
const DefaultAcceptThreshold = 0.35

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/matome/data/db/matome.db"
	}
	if cfg.Storage.WorkspaceDir == "" {
		cfg.Storage.WorkspaceDir = "/usr/local/var/matome/workspace"
	}
	if cfg.Storage.VectorIndexDir == "" {
		cfg.Storage.VectorIndexDir = "/usr/local/var/matome/data/indices/vector"
	}
	if cfg.Storage.KeywordIndexDir == "" {
		cfg.Storage.KeywordIndexDir = "/usr/local/var/matome/data/indices/keyword"
	}
	if cfg.Embedding.ServerURL == "" {
		cfg.Embedding.ServerURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text:latest"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.RateLimit == 0 {
		cfg.Embedding.RateLimit = 4
	}
	if cfg.Embedding.RateBurst == 0 {
		cfg.Embedding.RateBurst = 4
	}
	if cfg.Generation.ServerURL == "" {
		cfg.Generation.ServerURL = "http://localhost:11434"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.2"
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 60
	}
	if cfg.Generation.RateLimit == 0 {
		cfg.Generation.RateLimit = 1
	}
	if cfg.Generation.RateBurst == 0 {
		cfg.Generation.RateBurst = 1
	}
	if cfg.Matching.AcceptThreshold == 0 {
		cfg.Matching.AcceptThreshold = DefaultAcceptThreshold
	}
	if cfg.Matching.Fuzziness == 0 {
		cfg.Matching.Fuzziness = 2
	}
	if cfg.Matching.MinKeywordScore == 0 {
		cfg.Matching.MinKeywordScore = 0.49
	}
	if cfg.Matching.MaxSuggestions == 0 {
		cfg.Matching.MaxSuggestions = 3
	}
	if cfg.Orchestrator.QueueSize == 0 {
		cfg.Orchestrator.QueueSize = 8
	}
	if cfg.Orchestrator.TimeoutSeconds == 0 {
		cfg.Orchestrator.TimeoutSeconds = 120
	}
	if cfg.Orchestrator.RetainMinutes == 0 {
		cfg.Orchestrator.RetainMinutes = 60
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 500
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".md"}
	}
}
